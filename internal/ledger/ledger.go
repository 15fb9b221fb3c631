// Package ledger enforces the global hourly request quota and the per-topic
// cooldown window. All state lives in the external key/expiry store so that
// any number of concurrent reply attempts (and daemon processes) share one
// view of the budget.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
)

const (
	rateLimitKeyPrefix = "ai_replier:rate_limit:"
	cooldownKeyPrefix  = "ai_replier:cooldown:topic:"
)

// ErrQuotaExceeded is returned when a request slot is demanded from an
// exhausted hour bucket.
var ErrQuotaExceeded = errors.New("hourly request quota exceeded")

// Ledger tracks the hourly request counter and per-topic cooldowns.
type Ledger struct {
	store      kv.Store
	maxPerHour int64
	cooldown   time.Duration

	// now is injectable so tests can cross hour boundaries.
	now func() time.Time
}

// New creates a Ledger from configuration.
func New(store kv.Store, cfg *config.Config) *Ledger {
	return &Ledger{
		store:      store,
		maxPerHour: int64(cfg.Limits.RateLimitPerHour),
		cooldown:   cfg.Cooldown(),
		now:        time.Now,
	}
}

// rateLimitKey returns the counter key for the current hour bucket. The key
// changes at every wall-clock hour boundary; each bucket expires on its own.
func (l *Ledger) rateLimitKey() string {
	return rateLimitKeyPrefix + l.now().Format("2006010215")
}

func cooldownKey(topicID int64) string {
	return cooldownKeyPrefix + strconv.FormatInt(topicID, 10)
}

// Acquire reserves one request slot in the current hour bucket. The check
// and the increment are a single atomic operation in the store, so two
// concurrent callers can never both be admitted for the last slot.
func (l *Ledger) Acquire(ctx context.Context) (bool, error) {
	return l.store.AcquireSlot(ctx, l.rateLimitKey(), l.maxPerHour, time.Hour)
}

// Release refunds a slot reserved by Acquire. If the hour rolled over in
// between, the refund lands on the new (possibly empty) bucket and is
// dropped there; that is harmless and costs at most one slot.
func (l *Ledger) Release(ctx context.Context) error {
	return l.store.ReleaseSlot(ctx, l.rateLimitKey())
}

// Record demands a slot and fails with ErrQuotaExceeded when the bucket is
// exhausted. Callers that want a soft skip use Acquire instead.
func (l *Ledger) Record(ctx context.Context) error {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// Admit reports whether the current bucket still has capacity. This is a
// read-only check for health reporting; the binding decision is Acquire.
func (l *Ledger) Admit(ctx context.Context) (bool, error) {
	count, err := l.CurrentCount(ctx)
	if err != nil {
		return false, err
	}
	return count < l.maxPerHour, nil
}

// CurrentCount returns the number of requests recorded in the current bucket.
func (l *Ledger) CurrentCount(ctx context.Context) (int64, error) {
	return l.store.GetInt(ctx, l.rateLimitKey())
}

// InCooldown reports whether the topic received an automated reply within
// the cooldown window.
func (l *Ledger) InCooldown(ctx context.Context, topicID int64) (bool, error) {
	return l.store.Exists(ctx, cooldownKey(topicID))
}

// SetCooldown marks the topic ineligible for the configured cooldown.
func (l *Ledger) SetCooldown(ctx context.Context, topicID int64) error {
	stamp := strconv.FormatInt(l.now().Unix(), 10)
	return l.store.SetWithExpiry(ctx, cooldownKey(topicID), stamp, l.cooldown)
}

// ClearCooldown removes the cooldown marker for one topic.
func (l *Ledger) ClearCooldown(ctx context.Context, topicID int64) error {
	return l.store.Delete(ctx, cooldownKey(topicID))
}

// ClearAllCooldowns removes every cooldown marker and returns how many
// were cleared.
func (l *Ledger) ClearAllCooldowns(ctx context.Context) (int, error) {
	keys, err := l.store.Keys(ctx, cooldownKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// CooldownRemaining returns how long the topic stays ineligible; zero means
// the topic is not in cooldown.
func (l *Ledger) CooldownRemaining(ctx context.Context, topicID int64) (time.Duration, error) {
	return l.store.TTL(ctx, cooldownKey(topicID))
}

// ResetRateLimit drops the current hour bucket.
func (l *Ledger) ResetRateLimit(ctx context.Context) error {
	return l.store.Delete(ctx, l.rateLimitKey())
}

// Stats is a point-in-time view of the ledger for operators.
type Stats struct {
	CurrentHourCount  int64 `json:"current_hour_count"`
	MaxPerHour        int64 `json:"max_per_hour"`
	RemainingRequests int64 `json:"remaining_requests"`
	CooldownTopics    int   `json:"cooldown_topics"`
}

// Stats reports the current bucket usage and the number of topics in
// cooldown.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	count, err := l.CurrentCount(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("rate limit count: %w", err)
	}

	keys, err := l.store.Keys(ctx, cooldownKeyPrefix+"*")
	if err != nil {
		return Stats{}, fmt.Errorf("cooldown keys: %w", err)
	}

	remaining := l.maxPerHour - count
	if remaining < 0 {
		remaining = 0
	}

	return Stats{
		CurrentHourCount:  count,
		MaxPerHour:        l.maxPerHour,
		RemainingRequests: remaining,
		CooldownTopics:    len(keys),
	}, nil
}
