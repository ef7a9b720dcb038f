package pipeline

import (
	"context"
	"fmt"
	"golang.org/x/sync/errgroup"
	"text2phenotype.com/seqtag/batch"
	"text2phenotype.com/seqtag/inference"
	"text2phenotype.com/seqtag/logger"
	"text2phenotype.com/seqtag/registry"
	"text2phenotype.com/seqtag/tokenizer"
	"text2phenotype.com/seqtag/types"
	"time"
)

// ErrUnavailable matches runs whose model could not be loaded or is not in the catalog.
var ErrUnavailable = registry.ErrUnavailable

var pipelineLogger = logger.NewLogger("Pipeline")

// Models is the part of the registry the pipeline needs.
type Models interface {
	Embedder(ctx context.Context) (types.Embedder, error)
	Tagger(ctx context.Context, name string) (types.Tagger, error)
	Metadata(ctx context.Context, name string) (types.Metadata, error)
}

type Pipeline struct {
	models  Models
	builder *batch.Builder
}

// New returns a pipeline over models. A nil builder means 512-wide embeddings.
func New(models Models, builder *batch.Builder) *Pipeline {
	if builder == nil {
		builder = batch.Default()
	}
	return &Pipeline{models: models, builder: builder}
}

// Run tags text with the named model.
func (p *Pipeline) Run(ctx context.Context, text string, model string) (types.Result, error) {
	return p.Process(ctx, Request{Text: text, Model: model})
}

// Process runs the whole pipeline for one request. Cancellation is observed between
// stages; no partial Result is ever returned.
func (p *Pipeline) Process(ctx context.Context, request Request) (types.Result, error) {
	log := pipelineLogger.With().Str("tid", request.Tid).Str("model", request.Model).Logger()
	start := time.Now()

	var (
		embedder types.Embedder
		tagger   types.Tagger
		metadata types.Metadata
	)
	var embedderErr, taggerErr, metaErr error
	var g errgroup.Group
	g.Go(func() error {
		embedder, embedderErr = p.models.Embedder(ctx)
		return nil
	})
	g.Go(func() error {
		tagger, taggerErr = p.models.Tagger(ctx, request.Model)
		return nil
	})
	g.Go(func() error {
		metadata, metaErr = p.models.Metadata(ctx, request.Model)
		return nil
	})
	_ = g.Wait()
	// an unavailable tagger is reported before an embedder failure
	for _, err := range []error{taggerErr, metaErr, embedderErr} {
		if err != nil {
			log.Err(err).Msg("Models are not ready")
			return types.Result{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}

	tokens := tokenizer.Truncate(tokenizer.Tokenize(request.Text), metadata.SequenceLength)
	if len(tokens) == 0 {
		log.Debug().Msg("Nothing to tag")
		return types.EmptyResult(request.Model), nil
	}
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}

	embeddings, err := embedder.Embed(ctx, tokens)
	if err != nil {
		log.Err(err).Int("tokens", len(tokens)).Msg("Failed to embed tokens")
		return types.Result{}, fmt.Errorf("failed to embed tokens: %w", err)
	}
	if len(embeddings) != len(tokens) {
		return types.Result{}, fmt.Errorf("%w: embedder returned %d vectors for %d tokens",
			batch.ErrDataIntegrity, len(embeddings), len(tokens))
	}
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}

	b, err := p.builder.Build(embeddings, metadata.SequenceLength)
	if err != nil {
		log.Err(err).Msg("Failed to build batch")
		return types.Result{}, err
	}
	defer b.Release()
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}

	prediction, err := inference.Infer(tagger, b, metadata)
	if err != nil {
		log.Err(err).Msg("Inference failed")
		return types.Result{}, err
	}
	defer prediction.Release()

	result, err := inference.Decode(request.Model, tokens, prediction, b, metadata)
	if err != nil {
		log.Err(err).Msg("Failed to decode prediction")
		return types.Result{}, err
	}
	for i, tag := range result.Tags {
		log.Debug().
			Str("token", result.Tokens[i]).
			Str("label", tag.Label).
			Float64("percent", tag.Percent()).
			Msg("Tagged token")
	}
	log.Info().
		Int("tokens", len(tokens)).
		Dur("took", time.Since(start)).
		Msg("Finished tagging")
	return result, nil
}
