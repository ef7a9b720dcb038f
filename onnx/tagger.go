package onnx

import (
	"fmt"
	ort "github.com/yalue/onnxruntime_go"
	"text2phenotype.com/seqtag/types"
)

// Tagger runs a sequence tagging graph with one float input of shape [1, L, dim]
// and one output of shape [1, L, numLabels].
type Tagger struct {
	session *session
}

func LoadTagger(modelPath string) (*Tagger, error) {
	s, err := openSession(modelPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(s.inputs) != 1 {
		s.close()
		return nil, fmt.Errorf("tagger model must have exactly one input, got %v", s.inputs)
	}
	return &Tagger{session: s}, nil
}

func (t *Tagger) Predict(b types.Batch) ([][]float32, error) {
	if t.session == nil {
		return nil, fmt.Errorf("tagger session is closed")
	}
	shape := b.Shape()
	input, err := ort.NewTensor(ort.NewShape(int64(shape[0]), int64(shape[1]), int64(shape[2])), b.Flatten())
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := t.session.run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	data, outShape, err := float32Data(output)
	if err != nil {
		return nil, err
	}
	return splitScores(data, outShape, shape[1])
}

func (t *Tagger) Close() error {
	if t.session != nil {
		t.session.close()
		t.session = nil
	}
	return nil
}

// splitScores copies a [1, L, numLabels] tensor into per-position rows.
func splitScores(data []float32, shape []int64, sequenceLength int) ([][]float32, error) {
	if len(shape) != 3 || shape[0] != 1 || int(shape[1]) != sequenceLength {
		return nil, fmt.Errorf("unexpected tagger output shape %v for sequence length %d", shape, sequenceLength)
	}
	numLabels := int(shape[2])
	if len(data) != sequenceLength*numLabels {
		return nil, fmt.Errorf("tagger output has %d values, shape %v", len(data), shape)
	}
	out := make([][]float32, sequenceLength)
	for i := range out {
		row := make([]float32, numLabels)
		copy(row, data[i*numLabels:(i+1)*numLabels])
		out[i] = row
	}
	return out, nil
}
