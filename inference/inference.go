package inference

import (
	"fmt"
	"text2phenotype.com/seqtag/batch"
	"text2phenotype.com/seqtag/types"
)

// ErrDataIntegrity is shared with the batch builder so callers check a single sentinel.
var ErrDataIntegrity = batch.ErrDataIntegrity

// Prediction holds the raw scores of one tagger run, shape [1, SequenceLength, NumLabels].
type Prediction struct {
	Scores [][]float32
}

func (p *Prediction) Shape() [3]int {
	numLabels := 0
	if len(p.Scores) > 0 {
		numLabels = len(p.Scores[0])
	}
	return [3]int{1, len(p.Scores), numLabels}
}

// Release drops the prediction's score buffers.
func (p *Prediction) Release() {
	if p != nil {
		p.Scores = nil
	}
}

// Infer runs the tagger once and checks the output against the batch and the label set.
func Infer(tagger types.Tagger, b types.Batch, metadata types.Metadata) (*Prediction, error) {
	shape := b.Shape()
	scores, err := tagger.Predict(b)
	if err != nil {
		return nil, fmt.Errorf("tagger prediction failed: %w", err)
	}
	if len(scores) != shape[1] {
		return nil, fmt.Errorf("%w: tagger returned %d positions for sequence length %d",
			ErrDataIntegrity, len(scores), shape[1])
	}
	for i, row := range scores {
		if len(row) != metadata.NumLabels() {
			return nil, fmt.Errorf("%w: position %d has %d scores for %d labels",
				ErrDataIntegrity, i, len(row), metadata.NumLabels())
		}
	}
	return &Prediction{Scores: scores}, nil
}

// Argmax returns the index and value of the largest score. Ties go to the lowest index.
func Argmax(scores []float32) (int, float32) {
	best := -1
	var bestValue float32
	for i, v := range scores {
		if best < 0 || v > bestValue {
			best = i
			bestValue = v
		}
	}
	return best, bestValue
}

// Decode aligns tokens with scores and batch rows. When the input was shorter than the
// sequence length, one trailing sentinel token stands in for the padding.
// All values in the returned Result are copies.
func Decode(model string, tokens []types.Token, prediction *Prediction, b types.Batch, metadata types.Metadata) (types.Result, error) {
	sequenceLength := metadata.SequenceLength
	n := len(tokens)
	if n > sequenceLength {
		n = sequenceLength
	}
	if held := b.Real(); held != n {
		return types.Result{}, fmt.Errorf("%w: %d tokens kept but the batch holds %d embeddings",
			ErrDataIntegrity, n, held)
	}
	shown := make([]types.Token, n, n+1)
	copy(shown, tokens[:n])
	if len(tokens) < sequenceLength {
		sentinel, err := metadata.Sentinel()
		if err != nil {
			return types.Result{}, err
		}
		shown = append(shown, sentinel)
	}

	keep := len(shown)
	if len(prediction.Scores) < keep {
		return types.Result{}, fmt.Errorf("%w: %d tokens but %d score vectors",
			ErrDataIntegrity, keep, len(prediction.Scores))
	}
	if rows := b.Shape()[1]; rows < keep {
		return types.Result{}, fmt.Errorf("%w: %d tokens but %d embedding rows",
			ErrDataIntegrity, keep, rows)
	}

	result := types.Result{
		Model:      model,
		Tokens:     shown,
		Scores:     make([][]float32, keep),
		Embeddings: make([]types.Embedding, keep),
		Tags:       make([]types.Tag, keep),
	}
	for i := 0; i < keep; i++ {
		scores := prediction.Scores[i]
		if len(scores) != metadata.NumLabels() {
			return types.Result{}, fmt.Errorf("%w: position %d has %d scores for %d labels",
				ErrDataIntegrity, i, len(scores), metadata.NumLabels())
		}
		idx, confidence := Argmax(scores)
		result.Tags[i] = types.Tag{
			Label:      metadata.Labels[idx],
			Index:      idx,
			Confidence: confidence,
		}
		result.Scores[i] = cloneVector(scores)
		result.Embeddings[i] = cloneVector(b.Row(i))
	}
	return result, nil
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
