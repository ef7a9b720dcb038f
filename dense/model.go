package dense

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"text2phenotype.com/seqtag/types"
)

// Model is a time-distributed softmax layer: every position of the batch is scored
// independently as softmax(row * Kernel + Bias).
type Model struct {
	Kernel [][]float32 `json:"kernel"`
	Bias   []float32   `json:"bias"`
}

func (m Model) InputDimension() int {
	return len(m.Kernel)
}

func (m Model) NumLabels() int {
	return len(m.Bias)
}

func (m Model) validate() error {
	if len(m.Kernel) == 0 || len(m.Bias) == 0 {
		return errors.New("dense model has an empty kernel or bias")
	}
	for i, row := range m.Kernel {
		if len(row) != len(m.Bias) {
			return fmt.Errorf("dense kernel row %d has %d columns, bias has %d", i, len(row), len(m.Bias))
		}
	}
	return nil
}

// Eval returns label probabilities for one embedding.
func (m Model) Eval(row []float32) []float32 {
	outsums := make([]float64, len(m.Bias))
	for oid, b := range m.Bias {
		outsums[oid] = float64(b)
	}
	for i, v := range row {
		if v == 0 {
			continue
		}
		for oid, w := range m.Kernel[i] {
			outsums[oid] += float64(v) * float64(w)
		}
	}

	maxSum := math.Inf(-1)
	for _, s := range outsums {
		maxSum = math.Max(maxSum, s)
	}
	normal := 0.0
	for oid := range outsums {
		outsums[oid] = math.Exp(outsums[oid] - maxSum)
		normal += outsums[oid]
	}

	probs := make([]float32, len(outsums))
	for oid := range outsums {
		probs[oid] = float32(outsums[oid] / normal)
	}
	return probs
}

// Predict scores every position of the batch.
func (m Model) Predict(b types.Batch) ([][]float32, error) {
	shape := b.Shape()
	if shape[2] != m.InputDimension() {
		return nil, fmt.Errorf("dense model expects %d features, batch has %d", m.InputDimension(), shape[2])
	}
	out := make([][]float32, shape[1])
	for i := range out {
		out[i] = m.Eval(b.Row(i))
	}
	return out, nil
}

func (m Model) Close() error {
	return nil
}

func Load(r io.Reader) (Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return m, fmt.Errorf("failed to decode dense model: %w", err)
	}
	if err := m.validate(); err != nil {
		return m, err
	}
	return m, nil
}

func LoadModelFromFile(modelFilePath string) (Model, error) {
	f, err := os.Open(modelFilePath)
	if err != nil {
		return Model{}, err
	}
	defer f.Close()
	return Load(f)
}
