package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

func TestSaveAndGetSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess := forge.Session{ID: "s1", FlowKind: "txt2img-funnel", CurrentStage: 1, CreatedAt: time.Now(), LastActivity: time.Now()}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.FlowKind, got.FlowKind)
	assert.Equal(t, 1, got.CurrentStage)
}

func TestGetSession_UnknownReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestSaveSession_UpsertsById(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, forge.Session{ID: "s1", CurrentStage: 0}))
	require.NoError(t, s.SaveSession(ctx, forge.Session{ID: "s1", CurrentStage: 2}))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage)
}

func TestDeleteSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, forge.Session{ID: "s1"}))
	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestDeleteSession_UnknownIsNotAnError(t *testing.T) {
	s := New()
	assert.NoError(t, s.DeleteSession(context.Background(), "missing"))
}

func TestListSessions_OrdersByLastActivityDescending(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveSession(ctx, forge.Session{ID: "older", LastActivity: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveSession(ctx, forge.Session{ID: "newer", LastActivity: now}))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
}

func TestPreferenceSnapshot_LoadsMostRecentlySaved(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SavePreferenceSnapshot(ctx, []byte(`{"version":"1"}`)))
	require.NoError(t, s.SavePreferenceSnapshot(ctx, []byte(`{"version":"2"}`)))

	got, err := s.LoadLatestPreferenceSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":"2"}`, string(got))
}

func TestLoadLatestPreferenceSnapshot_NoneSavedReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadLatestPreferenceSnapshot(context.Background())
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestConcurrentSessionAccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "s" + string(rune('a'+n%26))
			_ = s.SaveSession(ctx, forge.Session{ID: id, LastActivity: time.Now()})
			_, _ = s.GetSession(ctx, id)
		}(i)
	}
	wg.Wait()

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sessions)
}
