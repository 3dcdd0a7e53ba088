package preference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

func TestExtractKeywords_FiltersStopWordsAndShortTokens(t *testing.T) {
	kw := ExtractKeywords("A highly detailed, masterpiece photo of a cat in the rain!")
	assert.Contains(t, kw, "cat")
	assert.Contains(t, kw, "rain")
	assert.NotContains(t, kw, "detailed")
	assert.NotContains(t, kw, "the")
	assert.NotContains(t, kw, "a")
}

func TestEngine_RecommendModel_WarmupFavorsHigherSelectionRate(t *testing.T) {
	e := New(nil)
	for i := 0; i < 20; i++ {
		e.Record("k thing", "A", nil, forge.ActionSelected, 0, "s1", "")
	}
	for i := 0; i < 2; i++ {
		e.Record("k thing", "B", nil, forge.ActionSelected, 0, "s1", "")
	}

	model, confidence, err := e.RecommendModel("k thing", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "A", model)
	assert.GreaterOrEqual(t, confidence, 0.22)

	for i := 0; i < 80; i++ {
		e.Record("k thing", "B", nil, forge.ActionRejected, 0, "s1", "")
	}
	_, confidence2, err := e.RecommendModel("k thing", []string{"A", "B"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, confidence2, 1e-9)
}

func TestEngine_RecommendModel_RejectionIsContextIsolated(t *testing.T) {
	e := New(nil)
	for i := 0; i < 10; i++ {
		e.Record("anime girl", "A", nil, forge.ActionRejected, 0, "s1", "")
	}
	for i := 0; i < 9; i++ {
		e.Record("photoreal portrait", "A", nil, forge.ActionSelected, 0, "s1", "")
	}
	e.Record("photoreal portrait", "A", nil, forge.ActionRejected, 0, "s1", "")

	animeModel, _, err := e.RecommendModel("anime girl", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", animeModel)

	photoModel, _, err := e.RecommendModel("photoreal portrait", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "A", photoModel)
}

func TestEngine_RecommendModel_EmptyKeywordsReturnsFirstCandidateZeroConfidence(t *testing.T) {
	e := New(nil)
	e.Record("k thing", "A", nil, forge.ActionSelected, 0, "s1", "")

	model, confidence, err := e.RecommendModel("!!! ?? ..", []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, "A", model) // sorted candidates tie-break lexicographically
	assert.Equal(t, 0.0, confidence)
}

func TestEngine_RecommendModel_NoCandidatesErrors(t *testing.T) {
	e := New(nil)
	_, _, err := e.RecommendModel("anything", nil)
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestEngine_RecommendAdapters_TopK(t *testing.T) {
	e := New(nil)
	e.Record("anime portrait", "A", []string{"lora-anime"}, forge.ActionSelected, 0, "s1", "")
	e.Record("anime portrait", "A", []string{"lora-anime"}, forge.ActionSelected, 0, "s1", "")
	e.Record("anime portrait", "A", []string{"lora-gritty"}, forge.ActionRejected, 0, "s1", "")

	scores := e.RecommendAdapters("anime portrait", "A", []string{"lora-anime", "lora-gritty", "lora-unseen"}, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, "lora-anime", scores[0].Adapter)
}

func TestEngine_Record_StatsMonotone(t *testing.T) {
	e := New(nil)
	e.Record("one two", "A", nil, forge.ActionSelected, 0, "s1", "")
	before := e.Stats()[forge.StatKey{A: "one", B: "A"}]
	e.Record("one two", "A", nil, forge.ActionRejected, 0, "s1", "")
	after := e.Stats()[forge.StatKey{A: "one", B: "A"}]

	assert.Greater(t, after.Total, before.Total)
	assert.LessOrEqual(t, after.Selected, after.Total)
}

func TestEngine_ExportImport_RoundTrip(t *testing.T) {
	e := New(nil)
	for i := 0; i < 15; i++ {
		e.Record("portrait lighting", "A", []string{"lora-x"}, forge.ActionSelected, 1, "s1", "")
	}
	e.Record("portrait lighting", "B", nil, forge.ActionRejected, 1, "s1", "feedback")

	data, err := e.MarshalJSON()
	require.NoError(t, err)

	before, _, err := e.RecommendModel("portrait lighting", []string{"A", "B"})
	require.NoError(t, err)

	e2 := New(nil)
	require.NoError(t, e2.Import(data))

	after, _, err := e2.RecommendModel("portrait lighting", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, e.RecordCount(), e2.RecordCount())
}

func TestEngine_Import_RejectsWrongVersion(t *testing.T) {
	e := New(nil)
	err := e.Import([]byte(`{"version":"99","records":[],"stats":[]}`))
	assert.ErrorIs(t, err, forge.ErrCorruptExport)
}

func TestEngine_Import_RejectsMalformedJSON(t *testing.T) {
	e := New(nil)
	err := e.Import([]byte(`not json`))
	assert.ErrorIs(t, err, forge.ErrCorruptExport)
}

func TestEngine_Import_RejectsInconsistentStat(t *testing.T) {
	e := New(nil)
	err := e.Import([]byte(`{"version":"1","records":[],"stats":[{"key_a":"x","selected":5,"total":1}]}`))
	assert.ErrorIs(t, err, forge.ErrCorruptExport)
}
