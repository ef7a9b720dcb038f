package registry

import (
	"context"
	"golang.org/x/sync/errgroup"
	"strings"
	"text2phenotype.com/seqtag/logger"
	"text2phenotype.com/seqtag/types"
	"time"
)

// MetadataFileName is the artifact expected next to every tagger model.
const MetadataFileName = "metadata.json"

var registryLogger = logger.NewLogger("Registry")

// Loader materializes models from catalog locations.
type Loader interface {
	LoadEmbedder(ctx context.Context, cfg types.EmbedderConfig) (types.Embedder, error)
	LoadTagger(ctx context.Context, location string) (types.Tagger, error)
	LoadMetadata(ctx context.Context, location string) (types.Metadata, error)
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusLoading     Status = "loading"
	StatusLoaded      Status = "loaded"
	StatusUnavailable Status = "unavailable"
)

// Registry owns the process-wide models. Each tagger and metadata artifact is loaded at
// most once; the embedder is retried on the next call after a failure.
type Registry struct {
	catalog  types.Catalog
	loader   Loader
	embedder *memo[types.Embedder]
	taggers  *memo[types.Tagger]
	metadata *memo[types.Metadata]
}

func New(catalog types.Catalog, loader Loader) *Registry {
	return &Registry{
		catalog:  catalog,
		loader:   loader,
		embedder: newMemo[types.Embedder](false),
		taggers:  newMemo[types.Tagger](true),
		metadata: newMemo[types.Metadata](true),
	}
}

// MetadataLocation replaces the file name of a tagger location with metadata.json.
// Works for filesystem paths and s3://bucket/key URLs alike.
func MetadataLocation(location string) string {
	idx := strings.LastIndex(location, "/")
	if idx < 0 {
		return MetadataFileName
	}
	return location[:idx+1] + MetadataFileName
}

func (r *Registry) Embedder(ctx context.Context) (types.Embedder, error) {
	return r.embedder.get(ctx, "", func(ctx context.Context) (types.Embedder, error) {
		start := time.Now()
		registryLogger.Info().Str("model", r.catalog.Embedder.ModelPath).Msg("Loading embedder")
		embedder, err := r.loader.LoadEmbedder(ctx, r.catalog.Embedder)
		if err != nil {
			registryLogger.Err(err).Msg("Failed to load embedder")
			return nil, &LoadError{Kind: KindEmbedder, Err: err}
		}
		registryLogger.Info().Dur("took", time.Since(start)).Msg("Embedder loaded")
		return embedder, nil
	})
}

func (r *Registry) Tagger(ctx context.Context, name string) (types.Tagger, error) {
	location, ok := r.catalog.Location(name)
	if !ok {
		return nil, &LoadError{Kind: KindTagger, Name: name, Err: errUnknownModel}
	}
	return r.taggers.get(ctx, name, func(ctx context.Context) (types.Tagger, error) {
		start := time.Now()
		log := registryLogger.With().Str("model", name).Str("location", location).Logger()
		log.Info().Msg("Loading tagger")
		tagger, err := r.loader.LoadTagger(ctx, location)
		if err != nil {
			log.Err(err).Msg("Failed to load tagger, model is marked unavailable")
			return nil, &LoadError{Kind: KindTagger, Name: name, Err: err}
		}
		log.Info().Dur("took", time.Since(start)).Msg("Tagger loaded")
		return tagger, nil
	})
}

func (r *Registry) Metadata(ctx context.Context, name string) (types.Metadata, error) {
	location, ok := r.catalog.Location(name)
	if !ok {
		return types.Metadata{}, &LoadError{Kind: KindMetadata, Name: name, Err: errUnknownModel}
	}
	location = MetadataLocation(location)
	return r.metadata.get(ctx, name, func(ctx context.Context) (types.Metadata, error) {
		log := registryLogger.With().Str("model", name).Str("location", location).Logger()
		metadata, err := r.loader.LoadMetadata(ctx, location)
		if err != nil {
			log.Err(err).Msg("Failed to load metadata, model is marked unavailable")
			return types.Metadata{}, &LoadError{Kind: KindMetadata, Name: name, Err: err}
		}
		log.Info().
			Int("labels", metadata.NumLabels()).
			Int("sequence_length", metadata.SequenceLength).
			Msg("Metadata loaded")
		return metadata, nil
	})
}

// LoadAll warms the embedder and every catalog model concurrently. Per-model failures
// are logged and remembered; only an embedder failure is returned.
func (r *Registry) LoadAll(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := r.Embedder(ctx)
		return err
	})
	for _, name := range r.catalog.Names() {
		name := name
		g.Go(func() error {
			if _, err := r.Tagger(ctx, name); err != nil {
				return nil
			}
			_, _ = r.Metadata(ctx, name)
			return nil
		})
	}
	return g.Wait()
}

// Status reports the load state of a catalog model. A model is loaded once both its
// tagger and its metadata are.
func (r *Registry) Status(name string) Status {
	if _, ok := r.catalog.Location(name); !ok {
		return StatusUnavailable
	}
	tagger, taggerDone, taggerLoading := r.taggers.state(name)
	meta, metaDone, metaLoading := r.metadata.state(name)
	switch {
	case (taggerDone && tagger.err != nil) || (metaDone && meta.err != nil):
		return StatusUnavailable
	case taggerDone && metaDone:
		return StatusLoaded
	case taggerLoading || metaLoading:
		return StatusLoading
	default:
		return StatusPending
	}
}

func (r *Registry) Statuses() map[string]Status {
	out := make(map[string]Status, len(r.catalog.Taggers))
	for _, name := range r.catalog.Names() {
		out[name] = r.Status(name)
	}
	return out
}

// Close releases every loaded model.
func (r *Registry) Close() error {
	var firstErr error
	for _, tagger := range r.taggers.values() {
		if err := tagger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, embedder := range r.embedder.values() {
		if err := embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
