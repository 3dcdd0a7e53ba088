package iteration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/preference"
)

func newController() *Controller {
	return New(preference.New(nil), nil, nil)
}

func TestNoopRewriter_ReturnsInputsUnchanged(t *testing.T) {
	prompt, negative, rationale, err := NoopRewriter{}.Rewrite(context.Background(), "a cat", "blurry")
	require.NoError(t, err)
	assert.Equal(t, "a cat", prompt)
	assert.Equal(t, "blurry", negative)
	assert.NotEmpty(t, rationale)
}

func TestController_StartSession_BeginsConfiguring(t *testing.T) {
	c := newController()
	c.StartSession("s1", 3, nil)

	stage, state, err := c.Stage("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stage)
	assert.Equal(t, StateConfiguring, state)
}

func TestController_Submit_RequiresConfiguring(t *testing.T) {
	c := newController()
	c.StartSession("s1", 3, nil)
	require.NoError(t, c.Submit("s1"))

	_, state, _ := c.Stage("s1")
	assert.Equal(t, StateGenerating, state)

	err := c.Submit("s1")
	assert.ErrorIs(t, err, forge.ErrInvalidTransition)
}

func TestController_OnBatchComplete_MovesToReviewing(t *testing.T) {
	c := newController()
	c.StartSession("s1", 3, nil)
	require.NoError(t, c.Submit("s1"))
	require.NoError(t, c.OnBatchComplete("s1"))

	_, state, _ := c.Stage("s1")
	assert.Equal(t, StateReviewing, state)
}

func TestController_Advance_MovesToNextStage(t *testing.T) {
	c := newController()
	c.StartSession("s1", 2, map[string]any{"seed_base": 1})
	require.NoError(t, c.Submit("s1"))
	require.NoError(t, c.OnBatchComplete("s1"))

	stage, state, err := c.Advance("s1", map[string]any{"guidance": 7.5})
	require.NoError(t, err)
	assert.Equal(t, 1, stage)
	assert.Equal(t, StateGenerating, state)
}

func TestController_Advance_ReachesDoneAtLastStage(t *testing.T) {
	c := newController()
	c.StartSession("s1", 1, nil)
	require.NoError(t, c.Submit("s1"))
	require.NoError(t, c.OnBatchComplete("s1"))

	stage, state, err := c.Advance("s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stage)
	assert.Equal(t, StateDone, state)
}

func TestController_Advance_RequiresReviewing(t *testing.T) {
	c := newController()
	c.StartSession("s1", 2, nil)

	_, _, err := c.Advance("s1", nil)
	assert.ErrorIs(t, err, forge.ErrInvalidTransition)
}

func TestController_RejectAll_RecordsAndStaysInReviewing(t *testing.T) {
	c := newController()
	c.StartSession("s1", 2, nil)
	require.NoError(t, c.Submit("s1"))
	require.NoError(t, c.OnBatchComplete("s1"))

	jobs := []forge.Job{
		{SessionID: "s1", Stage: 0, Prompt: "a cat", ModelFamily: "sd15"},
	}
	require.NoError(t, c.RejectAll("s1", jobs, "too blurry"))

	_, state, _ := c.Stage("s1")
	assert.Equal(t, StateReviewing, state)

	stat := c.preferences.Stats()[forge.StatKey{A: "cat", B: "sd15"}]
	assert.Equal(t, 1, stat.Total)
	assert.Equal(t, 0, stat.Selected)
}

func TestController_Select_RecordsAndInvokesRewriter(t *testing.T) {
	c := New(preference.New(nil), fakeRewriter{prompt: "a cat, refined"}, nil)
	c.StartSession("s1", 2, nil)
	require.NoError(t, c.Submit("s1"))
	require.NoError(t, c.OnBatchComplete("s1"))

	jobs := []forge.Job{
		{SessionID: "s1", Stage: 0, Prompt: "a cat", NegativePrompt: "blurry", ModelFamily: "sd15"},
	}
	prompt, negative, rationale, err := c.Select(context.Background(), "s1", jobs)
	require.NoError(t, err)
	assert.Equal(t, "a cat, refined", prompt)
	assert.Equal(t, "blurry", negative)
	assert.NotEmpty(t, rationale)

	stat := c.preferences.Stats()[forge.StatKey{A: "cat", B: "sd15"}]
	assert.Equal(t, 1, stat.Selected)
}

func TestController_Select_RequiresReviewing(t *testing.T) {
	c := newController()
	c.StartSession("s1", 2, nil)

	_, _, _, err := c.Select(context.Background(), "s1", []forge.Job{{Prompt: "x"}})
	assert.ErrorIs(t, err, forge.ErrInvalidTransition)
}

func TestController_UnknownSession_ReturnsNotFound(t *testing.T) {
	c := newController()
	_, _, err := c.Stage("missing")
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestMoreLikeThis_BuildsImg2ImgBatchRequest(t *testing.T) {
	source := forge.Job{
		SessionID: "s1", Stage: 1, TaskClass: forge.TaskClassStandard, ModelFamily: "sd15",
		Prompt: "a cat", NegativePrompt: "blurry", ArtifactRef: "artifacts/abc.png",
		Params: forge.ParameterBundle{Width: 512, Height: 512, Seed: 7},
	}

	req := MoreLikeThis(source, 0, 500, 0)
	assert.Equal(t, 1, req.Count)
	assert.Equal(t, defaultMoreLikeThisDenoise, req.BaseParams.DenoiseStrength)
	assert.Equal(t, "artifacts/abc.png", req.BaseParams.SourceImageRef)
	assert.Equal(t, int64(500), req.SeedStart)
}

type fakeRewriter struct {
	prompt string
}

func (f fakeRewriter) Rewrite(_ context.Context, _, negative string) (string, string, string, error) {
	return f.prompt, negative, "rewritten by fake", nil
}
