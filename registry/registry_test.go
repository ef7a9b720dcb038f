package registry

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"text2phenotype.com/seqtag/types"
	"time"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, []types.Token) ([]types.Embedding, error) {
	return nil, nil
}
func (fakeEmbedder) Dimension() int { return types.EmbeddingDimension }
func (fakeEmbedder) Close() error   { return nil }

type fakeTagger struct{ location string }

func (fakeTagger) Predict(types.Batch) ([][]float32, error) { return nil, nil }
func (fakeTagger) Close() error                            { return nil }

type fakeLoader struct {
	embedderCalls int32
	taggerCalls   int32
	metadataCalls int32
	embedderErr   error
	broken        map[string]bool
	gate          chan struct{}
	panicOn       string
}

func (l *fakeLoader) LoadEmbedder(context.Context, types.EmbedderConfig) (types.Embedder, error) {
	atomic.AddInt32(&l.embedderCalls, 1)
	if l.embedderErr != nil {
		return nil, l.embedderErr
	}
	return fakeEmbedder{}, nil
}

func (l *fakeLoader) LoadTagger(_ context.Context, location string) (types.Tagger, error) {
	atomic.AddInt32(&l.taggerCalls, 1)
	if l.gate != nil {
		<-l.gate
	}
	if location == l.panicOn {
		panic("corrupted model")
	}
	if l.broken[location] {
		return nil, errors.New("cannot read model")
	}
	return fakeTagger{location: location}, nil
}

func (l *fakeLoader) LoadMetadata(_ context.Context, location string) (types.Metadata, error) {
	atomic.AddInt32(&l.metadataCalls, 1)
	if l.broken[location] {
		return types.Metadata{}, errors.New("cannot read metadata")
	}
	return types.Metadata{Labels: []string{"NOUN", "VERB", "PAD"}, SequenceLength: 5}, nil
}

func testCatalog() types.Catalog {
	return types.Catalog{
		Embedder: types.EmbedderConfig{ModelPath: "models/use/model.onnx"},
		Taggers: map[string]string{
			"dense":  "models/dense/model.json",
			"lstm":   "s3://bucket/models/lstm/model.onnx",
			"broken": "models/broken/model.onnx",
		},
	}
}

func TestMetadataLocation(t *testing.T) {
	assert.Equal(t, "models/dense/metadata.json", MetadataLocation("models/dense/model.json"))
	assert.Equal(t, "s3://bucket/models/lstm/metadata.json", MetadataLocation("s3://bucket/models/lstm/model.onnx"))
	assert.Equal(t, "metadata.json", MetadataLocation("model.onnx"))
}

func TestConcurrentCallersShareOneLoad(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	reg := New(testCatalog(), loader)

	var wg sync.WaitGroup
	taggers := make([]types.Tagger, 16)
	for i := range taggers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tagger, err := reg.Tagger(context.Background(), "dense")
			assert.NoError(t, err)
			taggers[i] = tagger
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.taggerCalls))
	for _, tagger := range taggers {
		assert.Equal(t, taggers[0], tagger)
	}
}

func TestFailedLoadIsRemembered(t *testing.T) {
	loader := &fakeLoader{broken: map[string]bool{"models/broken/model.onnx": true}}
	reg := New(testCatalog(), loader)

	for i := 0; i < 3; i++ {
		_, err := reg.Tagger(context.Background(), "broken")
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.taggerCalls))
	assert.Equal(t, StatusUnavailable, reg.Status("broken"))
}

func TestUnknownModelIsUnavailable(t *testing.T) {
	reg := New(testCatalog(), &fakeLoader{})
	_, err := reg.Tagger(context.Background(), "crf")
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = reg.Metadata(context.Background(), "crf")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, StatusUnavailable, reg.Status("crf"))
}

func TestPanickingLoadBecomesUnavailable(t *testing.T) {
	loader := &fakeLoader{panicOn: "models/dense/model.json"}
	reg := New(testCatalog(), loader)
	_, err := reg.Tagger(context.Background(), "dense")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestEmbedderFailureIsRetried(t *testing.T) {
	loader := &fakeLoader{embedderErr: errors.New("no runtime")}
	reg := New(testCatalog(), loader)

	_, err := reg.Embedder(context.Background())
	assert.True(t, errors.Is(err, ErrEmbedderUnavailable))
	assert.False(t, errors.Is(err, ErrUnavailable))

	loader.embedderErr = nil
	embedder, err := reg.Embedder(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, embedder)

	_, err = reg.Embedder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.embedderCalls))
}

func TestMetadataUsesSiblingLocation(t *testing.T) {
	loader := &fakeLoader{broken: map[string]bool{"s3://bucket/models/lstm/metadata.json": true}}
	reg := New(testCatalog(), loader)

	_, err := reg.Metadata(context.Background(), "lstm")
	assert.True(t, errors.Is(err, ErrUnavailable))

	metadata, err := reg.Metadata(context.Background(), "dense")
	require.NoError(t, err)
	assert.Equal(t, 5, metadata.SequenceLength)
}

func TestCancelledWaiterDoesNotAbortLoad(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	reg := New(testCatalog(), loader)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Tagger(ctx, "dense")
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusLoading, reg.Status("dense"))
	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	close(loader.gate)
	tagger, err := reg.Tagger(context.Background(), "dense")
	require.NoError(t, err)
	assert.NotNil(t, tagger)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.taggerCalls))
}

func TestLoadAll(t *testing.T) {
	loader := &fakeLoader{broken: map[string]bool{"models/broken/model.onnx": true}}
	reg := New(testCatalog(), loader)

	assert.Equal(t, map[string]Status{
		"broken": StatusPending,
		"dense":  StatusPending,
		"lstm":   StatusPending,
	}, reg.Statuses())

	require.NoError(t, reg.LoadAll(context.Background()))
	assert.Equal(t, map[string]Status{
		"broken": StatusUnavailable,
		"dense":  StatusLoaded,
		"lstm":   StatusLoaded,
	}, reg.Statuses())
	assert.NoError(t, reg.Close())
}

func TestLoadAllFailsOnEmbedder(t *testing.T) {
	loader := &fakeLoader{embedderErr: errors.New("no runtime")}
	reg := New(testCatalog(), loader)
	err := reg.LoadAll(context.Background())
	assert.True(t, errors.Is(err, ErrEmbedderUnavailable))
	assert.Equal(t, StatusLoaded, reg.Status("dense"))
}
