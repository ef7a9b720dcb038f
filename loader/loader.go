package loader

import (
	"context"
	"fmt"
	"io/ioutil"
	"path"
	"strings"
	"text2phenotype.com/seqtag/dense"
	"text2phenotype.com/seqtag/embedcache"
	"text2phenotype.com/seqtag/onnx"
	"text2phenotype.com/seqtag/store"
	"text2phenotype.com/seqtag/types"
)

// Loader builds models from artifact locations. Taggers are picked by file extension:
// .onnx runs on ONNX Runtime and .json is a dense softmax layer.
type Loader struct {
	store      *store.Store
	ortLibrary string
	cache      embedcache.Store
}

// New returns a Loader. A nil cache disables embedding caching.
func New(st *store.Store, ortLibrary string, cache embedcache.Store) *Loader {
	return &Loader{store: st, ortLibrary: ortLibrary, cache: cache}
}

func (l *Loader) LoadEmbedder(ctx context.Context, cfg types.EmbedderConfig) (types.Embedder, error) {
	if err := onnx.Initialize(l.ortLibrary); err != nil {
		return nil, err
	}
	local := cfg
	var err error
	if local.ModelPath, err = l.store.Localize(ctx, cfg.ModelPath); err != nil {
		return nil, err
	}
	if local.TokenizerPath, err = l.store.Localize(ctx, cfg.TokenizerPath); err != nil {
		return nil, err
	}
	encoder, err := onnx.NewEncoder(local)
	if err != nil {
		return nil, err
	}
	if l.cache == nil {
		return encoder, nil
	}
	return embedcache.New(encoder, l.cache, cfg.ModelID), nil
}

func (l *Loader) LoadTagger(ctx context.Context, location string) (types.Tagger, error) {
	switch ext := strings.ToLower(path.Ext(location)); ext {
	case ".json":
		local, err := l.store.Localize(ctx, location)
		if err != nil {
			return nil, err
		}
		model, err := dense.LoadModelFromFile(local)
		if err != nil {
			return nil, err
		}
		return model, nil
	case ".onnx":
		if err := onnx.Initialize(l.ortLibrary); err != nil {
			return nil, err
		}
		local, err := l.store.Localize(ctx, location)
		if err != nil {
			return nil, err
		}
		return onnx.LoadTagger(local)
	default:
		return nil, fmt.Errorf("unsupported tagger format %q for %s", ext, location)
	}
}

func (l *Loader) LoadMetadata(ctx context.Context, location string) (types.Metadata, error) {
	r, err := l.store.Open(ctx, location)
	if err != nil {
		return types.Metadata{}, err
	}
	defer r.Close()
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("reading %s: %w", location, err)
	}
	return types.ParseMetadata(buf)
}
