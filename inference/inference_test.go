package inference

import (
	"errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"text2phenotype.com/seqtag/batch"
	"text2phenotype.com/seqtag/types"
)

type stubTagger struct {
	scores [][]float32
	err    error
}

func (s *stubTagger) Predict(types.Batch) ([][]float32, error) {
	return s.scores, s.err
}

func (s *stubTagger) Close() error {
	return nil
}

var posMetadata = types.Metadata{
	Labels:         []string{"NOUN", "VERB", "PAD"},
	SequenceLength: 5,
}

func TestArgmax(t *testing.T) {
	idx, v := Argmax([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(0.7), v)

	idx, _ = Argmax([]float32{0.4, 0.4, 0.2})
	assert.Equal(t, 0, idx, "first maximum wins")

	idx, _ = Argmax(nil)
	assert.Equal(t, -1, idx)
}

func TestDecodeShortSequenceAddsSentinel(t *testing.T) {
	builder := batch.NewBuilder(2)
	embeddings := []types.Embedding{{0.1, 0.2}, {0.3, 0.4}}
	b, err := builder.Build(embeddings, 5)
	require.NoError(t, err)
	defer b.Release()

	scores := [][]float32{
		{0.9, 0.05, 0.05},
		{0.2, 0.7, 0.1},
		{0.1, 0.1, 0.8},
		{0.1, 0.1, 0.8},
		{0.1, 0.1, 0.8},
	}
	prediction, err := Infer(&stubTagger{scores: scores}, b, posMetadata)
	require.NoError(t, err)

	result, err := Decode("pos", []types.Token{"Cambridge", "MA"}, prediction, b, posMetadata)
	require.NoError(t, err)

	expected := types.Result{
		Model:      "pos",
		Tokens:     []types.Token{"Cambridge", "MA", "PAD"},
		Scores:     scores[:3],
		Embeddings: []types.Embedding{{0.1, 0.2}, {0.3, 0.4}, {1, 1}},
		Tags: []types.Tag{
			{Label: "NOUN", Index: 0, Confidence: 0.9},
			{Label: "VERB", Index: 1, Confidence: 0.7},
			{Label: "PAD", Index: 2, Confidence: 0.8},
		},
	}
	if diff := cmp.Diff(expected, result); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestDecodeCopiesValues(t *testing.T) {
	builder := batch.NewBuilder(2)
	b, err := builder.Build([]types.Embedding{{0.5, 0.5}}, 2)
	require.NoError(t, err)
	scores := [][]float32{{1, 0, 0}, {0, 0, 1}}
	metadata := types.Metadata{Labels: posMetadata.Labels, SequenceLength: 2}

	result, err := Decode("pos", []types.Token{"word"}, &Prediction{Scores: scores}, b, metadata)
	require.NoError(t, err)

	result.Embeddings[1][0] = 7
	result.Scores[0][0] = 7
	assert.Equal(t, []float32{1, 1}, b.Row(1))
	assert.Equal(t, float32(1), scores[0][0])
}

func TestDecodeFullSequenceHasNoSentinel(t *testing.T) {
	builder := batch.NewBuilder(1)
	metadata := types.Metadata{Labels: posMetadata.Labels, SequenceLength: 2}
	b, err := builder.Build([]types.Embedding{{1}, {2}}, 2)
	require.NoError(t, err)

	prediction := &Prediction{Scores: [][]float32{{0, 1, 0}, {1, 0, 0}}}
	result, err := Decode("pos", []types.Token{"a", "b", "c"}, prediction, b, metadata)
	require.NoError(t, err)
	assert.Equal(t, []types.Token{"a", "b"}, result.Tokens)
	assert.Equal(t, "VERB", result.Tags[0].Label)
	assert.Equal(t, "NOUN", result.Tags[1].Label)
}

func TestDecodeUsesPadLabel(t *testing.T) {
	builder := batch.NewBuilder(1)
	metadata := types.Metadata{Labels: []string{"O", "<pad>", "B-LOC"}, SequenceLength: 3, PadLabel: "<pad>"}
	b, err := builder.Build([]types.Embedding{{1}}, 3)
	require.NoError(t, err)

	prediction := &Prediction{Scores: [][]float32{{0, 0, 1}, {0, 1, 0}, {0, 1, 0}}}
	result, err := Decode("ner", []types.Token{"Boston"}, prediction, b, metadata)
	require.NoError(t, err)
	assert.Equal(t, []types.Token{"Boston", "<pad>"}, result.Tokens)
}

func TestInferRejectsShapeMismatch(t *testing.T) {
	builder := batch.NewBuilder(1)
	b, err := builder.Build(nil, 5)
	require.NoError(t, err)

	_, err = Infer(&stubTagger{scores: [][]float32{{1, 0, 0}}}, b, posMetadata)
	assert.True(t, errors.Is(err, ErrDataIntegrity))

	wide := make([][]float32, 5)
	for i := range wide {
		wide[i] = []float32{1, 0}
	}
	_, err = Infer(&stubTagger{scores: wide}, b, posMetadata)
	assert.True(t, errors.Is(err, ErrDataIntegrity))

	boom := errors.New("boom")
	_, err = Infer(&stubTagger{err: boom}, b, posMetadata)
	assert.True(t, errors.Is(err, boom))
}

func TestDecodeRejectsShortPrediction(t *testing.T) {
	builder := batch.NewBuilder(1)
	b, err := builder.Build([]types.Embedding{{1}}, 5)
	require.NoError(t, err)

	_, err = Decode("pos", []types.Token{"a"}, &Prediction{Scores: [][]float32{{1, 0, 0}}}, b, posMetadata)
	assert.True(t, errors.Is(err, ErrDataIntegrity))
}

func TestDecodeRejectsBatchWithOtherTokenCount(t *testing.T) {
	builder := batch.NewBuilder(1)
	b, err := builder.Build([]types.Embedding{{1}, {2}}, 5)
	require.NoError(t, err)
	defer b.Release()

	scores := make([][]float32, 5)
	for i := range scores {
		scores[i] = []float32{1, 0, 0}
	}
	_, err = Decode("pos", []types.Token{"a"}, &Prediction{Scores: scores}, b, posMetadata)
	assert.True(t, errors.Is(err, ErrDataIntegrity))

	_, err = Decode("pos", []types.Token{"a", "b", "c"}, &Prediction{Scores: scores}, b, posMetadata)
	assert.True(t, errors.Is(err, ErrDataIntegrity))
}
