package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultSentinelIndex is the label position used for padding when metadata names no pad label.
const DefaultSentinelIndex = 2

type Metadata struct {
	Labels         []string `json:"labels"`
	SequenceLength int      `json:"sequenceLength"`
	PadLabel       string   `json:"padLabel,omitempty"`
}

func ParseMetadata(buf []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(buf, &m); err != nil {
		return m, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

func (m Metadata) Validate() error {
	if len(m.Labels) == 0 {
		return errors.New("metadata has no labels")
	}
	if m.SequenceLength <= 0 {
		return fmt.Errorf("metadata sequenceLength must be positive, got %d", m.SequenceLength)
	}
	if _, err := m.Sentinel(); err != nil {
		return err
	}
	return nil
}

// Sentinel returns the label displayed for the synthetic trailing padding token.
func (m Metadata) Sentinel() (string, error) {
	if m.PadLabel != "" {
		for _, l := range m.Labels {
			if l == m.PadLabel {
				return l, nil
			}
		}
		return "", fmt.Errorf("pad label %q is not one of the metadata labels", m.PadLabel)
	}
	if len(m.Labels) <= DefaultSentinelIndex {
		return "", fmt.Errorf("metadata has %d labels and no padLabel, need a label at index %d",
			len(m.Labels), DefaultSentinelIndex)
	}
	return m.Labels[DefaultSentinelIndex], nil
}

func (m Metadata) NumLabels() int {
	return len(m.Labels)
}
