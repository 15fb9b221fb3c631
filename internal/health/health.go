// Package health aggregates configuration validity, agent availability and
// quota capacity into a readiness signal, and keeps rolling success/failure
// counters in the key/expiry store for operators.
package health

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
	"github.com/b89k57w62/discourse-ai-replier/internal/ledger"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// Category names one class of recorded outcome. The values double as key
// segments in the stats counters.
type Category string

const (
	CategoryReply         Category = "reply"
	CategoryAPIRequest    Category = "api_request"
	CategoryAPIAuth       Category = "api_auth"
	CategoryAPIRateLimit  Category = "api_rate_limit"
	CategoryAPIServer     Category = "api_server"
	CategoryAPINetwork    Category = "api_network"
	CategoryEmptyResponse Category = "empty_response"
	CategoryJobSelector   Category = "job_selector"
	CategoryJobReply      Category = "job_reply"
)

const (
	statsKeyPrefix  = "ai_replier:stats:"
	errorsKeyPrefix = "ai_replier:errors:"

	statsRetention = 7 * 24 * time.Hour
	errorRetention = 24 * time.Hour
)

// AgentPool lists the user accounts allowed to author automated replies.
type AgentPool interface {
	AgentUsers(ctx context.Context) ([]types.User, error)
	ActiveAgentUsers(ctx context.Context, since time.Time) ([]types.User, error)
	RecentAgentReplyCount(ctx context.Context, since time.Time) (int, error)
}

// Monitor is the health monitor. It owns no state of its own; everything
// lives in the key/expiry store so restarts keep the rolling counters.
type Monitor struct {
	store  kv.Store
	ledger *ledger.Ledger
	agents AgentPool
	cfg    *config.Config
	now    func() time.Time
}

// New creates a Monitor.
func New(store kv.Store, ldg *ledger.Ledger, agents AgentPool, cfg *config.Config) *Monitor {
	return &Monitor{
		store:  store,
		ledger: ldg,
		agents: agents,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Snapshot is a point-in-time readiness judgment.
type Snapshot struct {
	Enabled         bool      `json:"enabled"`
	APIConfigured   bool      `json:"api_configured"`
	AgentsAvailable bool      `json:"agents_available"`
	RateLimitOK     bool      `json:"rate_limit_ok"`
	SuccessesToday  int64     `json:"successes_today"`
	FailuresToday   int64     `json:"failures_today"`
	SuccessRate     float64   `json:"success_rate"`
	Errors          []string  `json:"errors"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Ready reports whether a selection cycle should run: the feature is
// enabled, the API is fully configured, at least one agent user exists and
// the hourly quota still has room.
func (m *Monitor) Ready(ctx context.Context) bool {
	if !m.cfg.Replier.Enabled || !m.cfg.APIConfigured() {
		return false
	}
	if !m.agentsAvailable(ctx) {
		return false
	}
	ok, err := m.ledger.Admit(ctx)
	if err != nil {
		log.Printf("[health] rate limit check failed: %v", err)
		return false
	}
	return ok
}

// Check assembles the full snapshot.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	rateOK, err := m.ledger.Admit(ctx)
	if err != nil {
		log.Printf("[health] rate limit check failed: %v", err)
	}

	snap := Snapshot{
		Enabled:         m.cfg.Replier.Enabled,
		APIConfigured:   m.cfg.APIConfigured(),
		AgentsAvailable: m.agentsAvailable(ctx),
		RateLimitOK:     rateOK,
		CheckedAt:       m.now(),
	}

	snap.SuccessesToday, _ = m.counter(ctx, "success", CategoryReply)
	snap.FailuresToday, _ = m.counter(ctx, "failure", CategoryReply)
	snap.SuccessRate = successRate(snap.SuccessesToday, snap.FailuresToday)
	snap.Errors = m.collectErrors(ctx, snap)

	return snap
}

// RecordSuccess increments today's success counter for the category.
func (m *Monitor) RecordSuccess(ctx context.Context, category Category) {
	m.bump(ctx, "success", category)
}

// RecordFailure increments today's failure counter for the category and,
// when detail is non-empty, appends it to the short-lived error ring.
func (m *Monitor) RecordFailure(ctx context.Context, category Category, detail string) {
	m.bump(ctx, "failure", category)

	if detail == "" {
		return
	}
	key := errorsKeyPrefix + strconv.FormatInt(m.now().UnixNano(), 10)
	if err := m.store.SetWithExpiry(ctx, key, detail, errorRetention); err != nil {
		log.Printf("[health] recording error detail failed: %v", err)
	}
}

// SuccessRate returns today's reply success percentage. With no attempts
// recorded yet it reports 100: an idle system is a healthy system.
func (m *Monitor) SuccessRate(ctx context.Context) float64 {
	successes, _ := m.counter(ctx, "success", CategoryReply)
	failures, _ := m.counter(ctx, "failure", CategoryReply)
	return successRate(successes, failures)
}

// RecentErrors returns the error ring contents in no particular order.
func (m *Monitor) RecentErrors(ctx context.Context) ([]string, error) {
	keys, err := m.store.Keys(ctx, errorsKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	errs := make([]string, 0, len(keys))
	for _, key := range keys {
		val, err := m.store.Get(ctx, key)
		if err != nil || val == "" {
			continue
		}
		errs = append(errs, val)
	}
	return errs, nil
}

// Stats is the operator-facing summary.
type Stats struct {
	TotalAgentUsers  int          `json:"total_agent_users"`
	ActiveAgentUsers int          `json:"active_agent_users"`
	RateLimit        ledger.Stats `json:"rate_limit"`
	RecentReplies    int          `json:"recent_replies"`
	SuccessRate      float64      `json:"success_rate"`
}

// Stats gathers the operator summary: agent pool size, quota usage and
// replies created in the last 24 hours.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	agents, err := m.agents.AgentUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("agent users: %w", err)
	}
	active, err := m.agents.ActiveAgentUsers(ctx, m.now().Add(-7*24*time.Hour))
	if err != nil {
		return Stats{}, fmt.Errorf("active agent users: %w", err)
	}
	rate, err := m.ledger.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	recent := 0
	if len(agents) > 0 {
		recent, err = m.agents.RecentAgentReplyCount(ctx, m.now().Add(-24*time.Hour))
		if err != nil {
			return Stats{}, fmt.Errorf("recent replies: %w", err)
		}
	}

	return Stats{
		TotalAgentUsers:  len(agents),
		ActiveAgentUsers: len(active),
		RateLimit:        rate,
		RecentReplies:    recent,
		SuccessRate:      m.SuccessRate(ctx),
	}, nil
}

func (m *Monitor) agentsAvailable(ctx context.Context) bool {
	agents, err := m.agents.AgentUsers(ctx)
	if err != nil {
		log.Printf("[health] agent user lookup failed: %v", err)
		return false
	}
	return len(agents) > 0
}

func (m *Monitor) bump(ctx context.Context, kind string, category Category) {
	key := m.statsKey(kind, category)
	if _, err := m.store.IncrWithExpiry(ctx, key, statsRetention); err != nil {
		log.Printf("[health] recording %s/%s failed: %v", kind, category, err)
	}
}

func (m *Monitor) counter(ctx context.Context, kind string, category Category) (int64, error) {
	return m.store.GetInt(ctx, m.statsKey(kind, category))
}

func (m *Monitor) statsKey(kind string, category Category) string {
	return statsKeyPrefix + kind + ":" + string(category) + ":" + m.now().Format("2006-01-02")
}

func (m *Monitor) collectErrors(ctx context.Context, snap Snapshot) []string {
	var errs []string
	if m.cfg.API.Key == "" {
		errs = append(errs, "API key is not configured")
	}
	if m.cfg.API.URL == "" {
		errs = append(errs, "API URL is not configured")
	}
	if m.cfg.API.Model == "" {
		errs = append(errs, "API model is not configured")
	}
	if !snap.AgentsAvailable {
		errs = append(errs, "no AI agent users found")
	}
	if !snap.RateLimitOK {
		errs = append(errs, "hourly rate limit exhausted")
	}

	recent, err := m.RecentErrors(ctx)
	if err != nil {
		log.Printf("[health] reading recent errors failed: %v", err)
	}
	return append(errs, recent...)
}

func successRate(successes, failures int64) float64 {
	total := successes + failures
	if total == 0 {
		return 100.0
	}
	return float64(successes) / float64(total) * 100.0
}
