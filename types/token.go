package types

// Token is a contiguous, non-empty slice of the input text.
type Token = string

// Embedding is the dense vector produced for one token.
type Embedding = []float32

// EmbeddingDimension is the width of every embedding fed to a tagger.
const EmbeddingDimension = 512
