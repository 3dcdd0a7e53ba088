package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/store/memory"
)

func TestNew_AppliesDefaults(t *testing.T) {
	m := New(Config{Store: memory.New(), RedisOpt: asynq.RedisClientOpt{Addr: "localhost:6379"}}, nil)
	assert.Equal(t, defaultSweepTTL, m.config.SweepTTL)
	assert.Equal(t, defaultSweepCron, m.config.SweepCron)
	assert.NotNil(t, m.onIdle)
}

func TestHandleSweep_FlagsOnlyIdleSessions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	fresh := forge.Session{ID: "fresh", LastActivity: time.Now()}
	stale := forge.Session{ID: "stale", LastActivity: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, st.SaveSession(ctx, fresh))
	require.NoError(t, st.SaveSession(ctx, stale))

	var flagged []string
	m := New(Config{
		Store:    st,
		RedisOpt: asynq.RedisClientOpt{Addr: "localhost:6379"},
		SweepTTL: time.Hour,
	}, func(_ context.Context, sessionID string) {
		flagged = append(flagged, sessionID)
	})

	require.NoError(t, m.handleSweep(ctx, nil))
	assert.Equal(t, []string{"stale"}, flagged)
}

func TestHandleSweep_NoIdleSessionsFlagsNothing(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, forge.Session{ID: "fresh", LastActivity: time.Now()}))

	var flagged []string
	m := New(Config{
		Store:    st,
		RedisOpt: asynq.RedisClientOpt{Addr: "localhost:6379"},
		SweepTTL: time.Hour,
	}, func(_ context.Context, sessionID string) {
		flagged = append(flagged, sessionID)
	})

	require.NoError(t, m.handleSweep(ctx, nil))
	assert.Empty(t, flagged)
}

func TestDefaultOnIdle_LogsWithoutPanicking(t *testing.T) {
	m := New(Config{Store: memory.New(), RedisOpt: asynq.RedisClientOpt{Addr: "localhost:6379"}}, nil)
	m.logIdleSession(context.Background(), "some-session")
}
