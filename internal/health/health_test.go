package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
	"github.com/b89k57w62/discourse-ai-replier/internal/ledger"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

type fakeAgentPool struct {
	agents    []types.User
	active    []types.User
	recent    int
	agentsErr error
}

func (f *fakeAgentPool) AgentUsers(context.Context) ([]types.User, error) {
	return f.agents, f.agentsErr
}

func (f *fakeAgentPool) ActiveAgentUsers(context.Context, time.Time) ([]types.User, error) {
	return f.active, nil
}

func (f *fakeAgentPool) RecentAgentReplyCount(context.Context, time.Time) (int, error) {
	return f.recent, nil
}

func configuredConfig() *config.Config {
	cfg := config.Default()
	cfg.Replier.Enabled = true
	cfg.API.Key = "test-key"
	cfg.API.URL = "https://api.example.com/v1/chat/completions"
	cfg.API.Model = "test-model"
	return cfg
}

func newTestMonitor(t *testing.T, cfg *config.Config, agents *fakeAgentPool) (*Monitor, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := kv.NewRedisStoreFromClient(client)
	return New(store, ledger.New(store, cfg), agents, cfg), mr
}

func TestReady_AllConditionsMet(t *testing.T) {
	m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{agents: []types.User{{ID: 20}}})
	assert.True(t, m.Ready(context.Background()))
}

func TestReady_FailsPerCondition(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		cfg := configuredConfig()
		cfg.Replier.Enabled = false
		m, _ := newTestMonitor(t, cfg, &fakeAgentPool{agents: []types.User{{ID: 20}}})
		assert.False(t, m.Ready(ctx))
	})

	t.Run("api unconfigured", func(t *testing.T) {
		cfg := configuredConfig()
		cfg.API.Key = ""
		m, _ := newTestMonitor(t, cfg, &fakeAgentPool{agents: []types.User{{ID: 20}}})
		assert.False(t, m.Ready(ctx))
	})

	t.Run("no agents", func(t *testing.T) {
		m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{})
		assert.False(t, m.Ready(ctx))
	})

	t.Run("agent lookup error", func(t *testing.T) {
		pool := &fakeAgentPool{agentsErr: errors.New("db locked")}
		m, _ := newTestMonitor(t, configuredConfig(), pool)
		assert.False(t, m.Ready(ctx))
	})

	t.Run("quota exhausted", func(t *testing.T) {
		cfg := configuredConfig()
		cfg.Limits.RateLimitPerHour = 1
		m, _ := newTestMonitor(t, cfg, &fakeAgentPool{agents: []types.User{{ID: 20}}})

		_, err := m.ledger.Acquire(ctx)
		require.NoError(t, err)

		assert.False(t, m.Ready(ctx))
	})
}

func TestSuccessRate(t *testing.T) {
	m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{})
	ctx := context.Background()

	assert.Equal(t, 100.0, m.SuccessRate(ctx), "no attempts means a healthy 100%")

	m.RecordSuccess(ctx, CategoryReply)
	m.RecordSuccess(ctx, CategoryReply)
	m.RecordSuccess(ctx, CategoryReply)
	m.RecordFailure(ctx, CategoryReply, "")

	assert.InDelta(t, 75.0, m.SuccessRate(ctx), 0.001)
}

func TestSuccessRate_IgnoresOtherCategories(t *testing.T) {
	m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{})
	ctx := context.Background()

	m.RecordSuccess(ctx, CategoryAPIRequest)
	m.RecordFailure(ctx, CategoryAPIServer, "")

	assert.Equal(t, 100.0, m.SuccessRate(ctx))
}

func TestRecordFailure_DetailLandsInErrorRing(t *testing.T) {
	m, mr := newTestMonitor(t, configuredConfig(), &fakeAgentPool{})
	ctx := context.Background()

	m.RecordFailure(ctx, CategoryAPIServer, "server error 503")
	m.RecordFailure(ctx, CategoryReply, "")

	errs, err := m.RecentErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"server error 503"}, errs, "empty detail must not be stored")

	// Ring entries expire after a day.
	mr.FastForward(25 * time.Hour)
	errs, err = m.RecentErrors(ctx)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestCheck_Snapshot(t *testing.T) {
	cfg := configuredConfig()
	m, _ := newTestMonitor(t, cfg, &fakeAgentPool{agents: []types.User{{ID: 20}}})
	ctx := context.Background()

	m.RecordSuccess(ctx, CategoryReply)
	m.RecordFailure(ctx, CategoryReply, "something broke")

	snap := m.Check(ctx)
	assert.True(t, snap.Enabled)
	assert.True(t, snap.APIConfigured)
	assert.True(t, snap.AgentsAvailable)
	assert.True(t, snap.RateLimitOK)
	assert.Equal(t, int64(1), snap.SuccessesToday)
	assert.Equal(t, int64(1), snap.FailuresToday)
	assert.InDelta(t, 50.0, snap.SuccessRate, 0.001)
	assert.Equal(t, []string{"something broke"}, snap.Errors)
	assert.False(t, snap.CheckedAt.IsZero())
}

func TestCheck_ReportsConfigProblems(t *testing.T) {
	cfg := configuredConfig()
	cfg.API.Key = ""
	cfg.API.Model = ""
	m, _ := newTestMonitor(t, cfg, &fakeAgentPool{})

	snap := m.Check(context.Background())
	assert.False(t, snap.APIConfigured)
	assert.Contains(t, snap.Errors, "API key is not configured")
	assert.Contains(t, snap.Errors, "API model is not configured")
	assert.Contains(t, snap.Errors, "no AI agent users found")
	assert.NotContains(t, snap.Errors, "API URL is not configured")
}

func TestCounters_ScopedByDay(t *testing.T) {
	m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{})
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.RecordSuccess(ctx, CategoryReply)

	snap := m.Check(ctx)
	assert.Equal(t, int64(1), snap.SuccessesToday)

	// Just past midnight the daily counter starts from zero.
	m.now = func() time.Time { return base.Add(time.Hour) }
	snap = m.Check(ctx)
	assert.Equal(t, int64(0), snap.SuccessesToday)
}

func TestStats(t *testing.T) {
	cfg := configuredConfig()
	pool := &fakeAgentPool{
		agents: []types.User{{ID: 20}, {ID: 21}},
		active: []types.User{{ID: 20}},
		recent: 7,
	}
	m, _ := newTestMonitor(t, cfg, pool)
	ctx := context.Background()

	_, err := m.ledger.Acquire(ctx)
	require.NoError(t, err)
	m.RecordSuccess(ctx, CategoryReply)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAgentUsers)
	assert.Equal(t, 1, stats.ActiveAgentUsers)
	assert.Equal(t, 7, stats.RecentReplies)
	assert.Equal(t, int64(1), stats.RateLimit.CurrentHourCount)
	assert.Equal(t, 100.0, stats.SuccessRate)
}

func TestStats_EmptyPoolSkipsReplyCount(t *testing.T) {
	m, _ := newTestMonitor(t, configuredConfig(), &fakeAgentPool{recent: 99})

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAgentUsers)
	assert.Zero(t, stats.RecentReplies, "reply count is skipped with no agents")
}
