// Package selector picks the topics the replier should visit in one cycle.
// Two query strategies run as a strict waterfall: quiet new topics first,
// and only when that tier is completely empty, worthy old ones.
package selector

import (
	"context"
	"log"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// TopicSource is the slice of the forum store the selector reads.
type TopicSource interface {
	QuietTopics(ctx context.Context, maxPosts, limit int) ([]types.Topic, error)
	WorthyOldTopics(ctx context.Context, cutoff time.Time, minViews, limit int) ([]types.Topic, error)
}

// CooldownChecker is the slice of the ledger the selector consults.
type CooldownChecker interface {
	InCooldown(ctx context.Context, topicID int64) (bool, error)
}

// Selector runs the waterfall query strategy.
type Selector struct {
	topics    TopicSource
	cooldowns CooldownChecker
	cfg       *config.Config
	now       func() time.Time
}

// New creates a Selector.
func New(topics TopicSource, cooldowns CooldownChecker, cfg *config.Config) *Selector {
	return &Selector{
		topics:    topics,
		cooldowns: cooldowns,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Select returns up to limit candidate topics in priority order. A limit of
// zero or less means the configured batch size. No qualifying topics is a
// normal outcome and yields an empty slice, not an error; errors are
// reserved for store failures.
//
// The two tiers are never merged: the old-topic query runs only when the
// quiet-topic query returned nothing at all, not to top up a short batch.
func (s *Selector) Select(ctx context.Context, limit int) ([]types.Topic, error) {
	if limit <= 0 {
		limit = s.cfg.Selection.BatchSize
	}

	topics, err := s.topics.QuietTopics(ctx, s.cfg.Selection.QuietTopicMaxPosts, limit)
	if err != nil {
		return nil, err
	}

	if len(topics) == 0 {
		cutoff := s.now().AddDate(0, 0, -s.cfg.Selection.OldTopicDays)
		topics, err = s.topics.WorthyOldTopics(ctx, cutoff, s.cfg.Selection.OldTopicMinViews, limit)
		if err != nil {
			return nil, err
		}
	}

	topics, err = s.filterCooldown(ctx, topics)
	if err != nil {
		return nil, err
	}
	topics = s.filterByAge(topics)

	log.Printf("[selector] selected %d topics for processing", len(topics))
	return topics, nil
}

// filterCooldown drops topics that received an automated reply within the
// cooldown window.
func (s *Selector) filterCooldown(ctx context.Context, topics []types.Topic) ([]types.Topic, error) {
	kept := topics[:0]
	for _, t := range topics {
		cooling, err := s.cooldowns.InCooldown(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if !cooling {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// filterByAge drops topics younger than the configured minimum age; a zero
// threshold disables the filter.
func (s *Selector) filterByAge(topics []types.Topic) []types.Topic {
	minAge := s.cfg.MinTopicAge()
	if minAge == 0 {
		return topics
	}

	cutoff := s.now().Add(-minAge)
	kept := topics[:0]
	for _, t := range topics {
		if !t.CreatedAt.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
