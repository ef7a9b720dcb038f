package embedcache

import (
	"context"
	"fmt"
	"text2phenotype.com/seqtag/logger"
	"text2phenotype.com/seqtag/types"
	"text2phenotype.com/seqtag/utils"
)

var cacheLogger = logger.NewLogger("Embedding cache")

// Store is a byte key-value store. MGet returns one entry per key, nil for misses.
type Store interface {
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	MSet(ctx context.Context, entries map[string][]byte) error
}

// Cached is an Embedder that remembers per-token vectors in a Store. Store failures
// degrade to calling the wrapped embedder.
type Cached struct {
	inner   types.Embedder
	store   Store
	modelID string
}

func New(inner types.Embedder, store Store, modelID string) *Cached {
	return &Cached{inner: inner, store: store, modelID: modelID}
}

func (c *Cached) Key(token types.Token) string {
	return fmt.Sprintf("emb:%s", utils.HexKey(utils.HashStrings(c.modelID, token)))
}

func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

func (c *Cached) Close() error {
	return c.inner.Close()
}

func (c *Cached) Embed(ctx context.Context, tokens []types.Token) ([]types.Embedding, error) {
	if len(tokens) == 0 {
		return []types.Embedding{}, nil
	}
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = c.Key(token)
	}
	out := make([]types.Embedding, len(tokens))

	cached, err := c.store.MGet(ctx, keys)
	if err != nil {
		cacheLogger.Err(err).Int("tokens", len(tokens)).Msg("Cache lookup failed, embedding everything")
		cached = nil
	}
	for i, data := range cached {
		if data == nil {
			continue
		}
		vec, err := DecodeVector(data)
		if err != nil || len(vec) != c.inner.Dimension() {
			cacheLogger.Warn().Str("key", keys[i]).Msg("Dropping unreadable cache entry")
			continue
		}
		out[i] = vec
	}

	// positions of each missing token, so repeated tokens are embedded once
	missing := make(map[types.Token][]int)
	var order []types.Token
	for i, token := range tokens {
		if out[i] != nil {
			continue
		}
		if _, seen := missing[token]; !seen {
			order = append(order, token)
		}
		missing[token] = append(missing[token], i)
	}
	if len(order) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, order)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(order) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d tokens", len(vectors), len(order))
	}
	entries := make(map[string][]byte, len(order))
	for j, token := range order {
		positions := missing[token]
		for n, i := range positions {
			if n == 0 {
				out[i] = vectors[j]
			} else {
				out[i] = append(types.Embedding(nil), vectors[j]...)
			}
		}
		entries[keys[positions[0]]] = EncodeVector(vectors[j])
	}
	if err := c.store.MSet(ctx, entries); err != nil {
		cacheLogger.Err(err).Int("entries", len(entries)).Msg("Failed to store embeddings")
	}
	cacheLogger.Debug().
		Int("tokens", len(tokens)).
		Int("misses", len(order)).
		Msg("Embedded tokens")
	return out, nil
}
