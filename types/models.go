package types

import "context"

// Embedder turns tokens into index-aligned embeddings of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, tokens []Token) ([]Embedding, error)
	Dimension() int
	Close() error
}

// Batch is a single-example, fixed-length input of shape [1, SequenceLength, Dimension].
// Rows may share backing arrays and must be treated as read-only.
type Batch interface {
	Shape() [3]int
	Row(i int) []float32
	// Real is the number of leading rows that hold token embeddings.
	Real() int
	// Flatten returns the rows as one contiguous row-major buffer.
	Flatten() []float32
}

// Tagger maps a batch to per-position label scores of shape [SequenceLength][numLabels].
// The batch dimension of 1 is implied.
type Tagger interface {
	Predict(batch Batch) ([][]float32, error)
	Close() error
}
