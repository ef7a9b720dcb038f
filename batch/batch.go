package batch

import (
	"errors"
	"fmt"
	"sync"
	"text2phenotype.com/seqtag/types"
)

// ErrDataIntegrity reports a shape contract violation between pipeline stages.
var ErrDataIntegrity = errors.New("data integrity error")

// Builder pads embedding sequences to a fixed length. Every pad slot of every batch
// references the same padding vector, which is never written after construction.
type Builder struct {
	dim     int
	padding []float32
	pool    sync.Pool
}

func NewBuilder(dim int) *Builder {
	padding := make([]float32, dim)
	for i := range padding {
		padding[i] = 1
	}
	return &Builder{dim: dim, padding: padding}
}

var defaultBuilder = NewBuilder(types.EmbeddingDimension)

// Default returns the process-wide builder for 512-wide embeddings.
func Default() *Builder {
	return defaultBuilder
}

func (b *Builder) Dimension() int {
	return b.dim
}

// IsPadding reports whether row is the builder's shared padding vector (same backing array).
func (b *Builder) IsPadding(row []float32) bool {
	return len(row) == len(b.padding) && len(row) > 0 && &row[0] == &b.padding[0]
}

// Build returns a [1, sequenceLength, dim] batch. Shorter inputs are padded at the end,
// inputs of exactly sequenceLength pass through, longer inputs are rejected.
func (b *Builder) Build(embeddings []types.Embedding, sequenceLength int) (*Batch, error) {
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("%w: sequence length must be positive, got %d", ErrDataIntegrity, sequenceLength)
	}
	if len(embeddings) > sequenceLength {
		return nil, fmt.Errorf("%w: got %d embeddings for sequence length %d",
			ErrDataIntegrity, len(embeddings), sequenceLength)
	}
	rows := make([][]float32, sequenceLength)
	for i, e := range embeddings {
		if len(e) != b.dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d",
				ErrDataIntegrity, i, len(e), b.dim)
		}
		rows[i] = e
	}
	for i := len(embeddings); i < sequenceLength; i++ {
		rows[i] = b.padding
	}
	return &Batch{
		builder: b,
		rows:    rows,
		real:    len(embeddings),
	}, nil
}

func (b *Builder) acquire(size int) []float32 {
	if v, ok := b.pool.Get().(*[]float32); ok && cap(*v) >= size {
		return (*v)[:size]
	}
	return make([]float32, size)
}

func (b *Builder) release(buf []float32) {
	b.pool.Put(&buf)
}

// Batch is a single padded sequence. It is owned by one request and must be released when done.
type Batch struct {
	builder *Builder
	rows    [][]float32
	real    int
	flat    []float32
}

func (b *Batch) Shape() [3]int {
	return [3]int{1, len(b.rows), b.builder.dim}
}

// Real is the number of positions holding real (non-padding) embeddings.
func (b *Batch) Real() int {
	return b.real
}

func (b *Batch) Row(i int) []float32 {
	return b.rows[i]
}

// Flatten copies the rows into a pooled row-major buffer. The buffer belongs to the batch
// and is reused by later calls until Release.
func (b *Batch) Flatten() []float32 {
	if b.flat != nil {
		return b.flat
	}
	dim := b.builder.dim
	flat := b.builder.acquire(len(b.rows) * dim)
	for i, row := range b.rows {
		copy(flat[i*dim:(i+1)*dim], row)
	}
	b.flat = flat
	return flat
}

// Release returns pooled buffers and drops references to the request's embeddings.
// It is safe to call more than once.
func (b *Batch) Release() {
	if b == nil {
		return
	}
	if b.flat != nil {
		b.builder.release(b.flat)
		b.flat = nil
	}
	b.rows = nil
	b.real = 0
}

func (b *Batch) Released() bool {
	return b.rows == nil
}
