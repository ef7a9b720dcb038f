package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable matches every failed or unknown tagger/metadata lookup.
	ErrUnavailable = errors.New("model unavailable")
	// ErrEmbedderUnavailable matches embedder load failures. They are not memoized.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	errUnknownModel = errors.New("no such model in catalog")
)

type Kind string

const (
	KindEmbedder Kind = "embedder"
	KindTagger   Kind = "tagger"
	KindMetadata Kind = "metadata"
)

type LoadError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Kind == KindEmbedder {
		return fmt.Sprintf("failed to load embedder: %v", e.Err)
	}
	return fmt.Sprintf("failed to load %s for model %q: %v", e.Kind, e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	if e.Kind == KindEmbedder {
		return target == ErrEmbedderUnavailable
	}
	return target == ErrUnavailable
}
