package worker

import (
	"errors"
	"text2phenotype.com/seqtag/types"
)

// Message is a tagging request. Location, when set, names an s3://bucket/key object
// holding the text; otherwise Text is tagged as is, and an empty Text yields an empty Result.
type Message struct {
	Tid      string `json:"tid"`
	Text     string `json:"text,omitempty"`
	Location string `json:"location,omitempty"`
	Model    string `json:"model"`
}

// Reply carries exactly one of Result, Unavailable or Error.
type Reply struct {
	Tid         string        `json:"tid"`
	Model       string        `json:"model"`
	Result      *types.Result `json:"result,omitempty"`
	Unavailable string        `json:"unavailable,omitempty"`
	Error       string        `json:"error,omitempty"`
}

func (m *Message) validate() error {
	if m.Tid == "" {
		return errors.New("message has no tid")
	}
	if m.Model == "" {
		return errors.New("message has no model")
	}
	if m.Text != "" && m.Location != "" {
		return errors.New("message has both text and location")
	}
	return nil
}

func replyKey(tid string) string {
	return "seqtag:reply:" + tid
}
