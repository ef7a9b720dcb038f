package embedcache

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"text2phenotype.com/seqtag/types"
)

type mapStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}}
}

func (s *mapStore) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = s.data[k]
	}
	return out, nil
}

func (s *mapStore) MSet(_ context.Context, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.data[k] = v
	}
	return nil
}

type countingEmbedder struct {
	seen [][]types.Token
}

func (e *countingEmbedder) Embed(_ context.Context, tokens []types.Token) ([]types.Embedding, error) {
	e.seen = append(e.seen, tokens)
	out := make([]types.Embedding, len(tokens))
	for i, token := range tokens {
		out[i] = types.Embedding{float32(len(token)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Close() error   { return nil }

func TestCodecRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3}
	decoded, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)

	_, err = DecodeVector([]byte{1, 0})
	assert.Error(t, err)
	_, err = DecodeVector([]byte{2, 0, 0, 0, 1, 2, 3, 4})
	assert.Error(t, err)
}

func TestEmbedOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	store := newMapStore()
	cached := New(inner, store, "use-v4")

	out, err := cached.Embed(context.Background(), []types.Token{"the", "dog", "the"})
	require.NoError(t, err)
	assert.Equal(t, []types.Embedding{{3, 1}, {3, 1}, {3, 1}}, out)
	assert.Equal(t, [][]types.Token{{"the", "dog"}}, inner.seen)
	assert.Len(t, store.data, 2)

	out[0][0] = 42
	assert.Equal(t, float32(3), out[2][0])

	out, err = cached.Embed(context.Background(), []types.Token{"dog", "barks", "the"})
	require.NoError(t, err)
	assert.Equal(t, []types.Embedding{{3, 1}, {5, 1}, {3, 1}}, out)
	assert.Equal(t, []types.Token{"barks"}, inner.seen[1])
}

func TestKeysDependOnModel(t *testing.T) {
	a := New(&countingEmbedder{}, newMapStore(), "a")
	b := New(&countingEmbedder{}, newMapStore(), "b")
	assert.NotEqual(t, a.Key("token"), b.Key("token"))
	assert.Equal(t, a.Key("token"), a.Key("token"))
	assert.Len(t, a.Key("token"), len("emb:")+16)
}

func TestStoreFailureFallsBack(t *testing.T) {
	inner := &countingEmbedder{}
	store := newMapStore()
	store.getErr = errors.New("connection refused")
	cached := New(inner, store, "use")

	out, err := cached.Embed(context.Background(), []types.Token{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, []types.Embedding{{1, 1}, {2, 1}}, out)
}

func TestUnreadableEntryIsRecomputed(t *testing.T) {
	inner := &countingEmbedder{}
	store := newMapStore()
	cached := New(inner, store, "use")
	store.data[cached.Key("x")] = []byte{9, 9}

	out, err := cached.Embed(context.Background(), []types.Token{"x"})
	require.NoError(t, err)
	assert.Equal(t, []types.Embedding{{1, 1}}, out)
	assert.Len(t, inner.seen, 1)
}
