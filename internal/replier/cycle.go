package replier

import (
	"context"
	"log"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// ReadyChecker gates a cycle on overall system health.
type ReadyChecker interface {
	Ready(ctx context.Context) bool
}

// CandidateSource produces the ordered candidate list for one cycle.
type CandidateSource interface {
	Select(ctx context.Context, limit int) ([]types.Topic, error)
}

// Dispatcher hands one candidate to an independent reply attempt.
type Dispatcher interface {
	Dispatch(topicID int64)
}

// Cycle is the periodic entry point: health gate, selection, dispatch. It
// never returns an error to the scheduler; a failing cycle records itself
// and waits for the next tick.
type Cycle struct {
	health   ReadyChecker
	selector CandidateSource
	dispatch Dispatcher
	monitor  Recorder
	cfg      *config.Config
}

// NewCycle creates a Cycle.
func NewCycle(hc ReadyChecker, sel CandidateSource, disp Dispatcher, monitor Recorder, cfg *config.Config) *Cycle {
	return &Cycle{
		health:   hc,
		selector: sel,
		dispatch: disp,
		monitor:  monitor,
		cfg:      cfg,
	}
}

// Run executes one selection cycle.
func (c *Cycle) Run(ctx context.Context) {
	if !c.cfg.Replier.Enabled {
		return
	}

	if !c.health.Ready(ctx) {
		log.Printf("[cycle] system not ready, skipping topic selection")
		return
	}

	topics, err := c.selector.Select(ctx, 0)
	if err != nil {
		log.Printf("[cycle] topic selection failed: %v", err)
		c.monitor.RecordFailure(ctx, health.CategoryJobSelector, err.Error())
		return
	}

	if len(topics) == 0 {
		log.Printf("[cycle] no suitable topics found for AI replies")
		return
	}

	for _, topic := range topics {
		c.dispatch.Dispatch(topic.ID)
	}
	log.Printf("[cycle] dispatched %d reply attempts", len(topics))
}
