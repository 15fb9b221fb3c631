// Package replier orchestrates a single automated reply attempt and the
// periodic cycle that feeds it. One attempt re-validates the topic, picks
// an agent account, obtains generated content and persists the reply; every
// step is a short-circuiting gate and no failure ever propagates to the
// caller as an error.
package replier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/store"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// Forum is the slice of the data store an attempt reads and writes.
type Forum interface {
	GetTopic(ctx context.Context, id int64) (*types.Topic, error)
	FirstPost(ctx context.Context, topicID int64) (*types.Post, error)
	AgentUsers(ctx context.Context) ([]types.User, error)
	CreatePost(ctx context.Context, userID, topicID int64, raw string) (*types.Post, error)
}

// CooldownLedger is the slice of the ledger an attempt touches.
type CooldownLedger interface {
	InCooldown(ctx context.Context, topicID int64) (bool, error)
	SetCooldown(ctx context.Context, topicID int64) error
}

// Generator produces reply content for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Recorder is the slice of the health monitor an attempt reports to.
type Recorder interface {
	RecordSuccess(ctx context.Context, category health.Category)
	RecordFailure(ctx context.Context, category health.Category, detail string)
}

// Replier runs single reply attempts.
type Replier struct {
	forum   Forum
	ledger  CooldownLedger
	gen     Generator
	monitor Recorder
	cfg     *config.Config

	// rng drives agent selection; injected for deterministic tests.
	rng *rand.Rand
	now func() time.Time
}

// New creates a Replier.
func New(forum Forum, ledger CooldownLedger, gen Generator, monitor Recorder, cfg *config.Config) *Replier {
	return &Replier{
		forum:   forum,
		ledger:  ledger,
		gen:     gen,
		monitor: monitor,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// ReplyTo runs one reply attempt against the topic. It always returns an
// Outcome; panics from lower layers are caught, logged and recorded as
// reply failures.
func (r *Replier) ReplyTo(ctx context.Context, topic *types.Topic) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			detail := fmt.Sprintf("panic during reply: %v", rec)
			log.Printf("[replier] %s", detail)
			r.monitor.RecordFailure(ctx, health.CategoryReply, detail)
			out = FailedAt(StageGeneration, detail)
		}
	}()

	if topic == nil {
		return Skipped("no topic")
	}

	if reason, ok := r.checkEligibility(ctx, topic); !ok {
		log.Printf("[replier] topic #%d not suitable for reply: %s", topic.ID, reason)
		return Skipped(reason)
	}

	agent, ok := r.selectAgent(ctx)
	if !ok {
		log.Printf("[replier] no AI user available")
		r.monitor.RecordFailure(ctx, health.CategoryReply, "no AI user available")
		return FailedAt(StageAgentSelection, "no AI user available")
	}

	prompt := r.preparePrompt(ctx, topic)

	content, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		log.Printf("[replier] failed to generate reply for topic #%d: %v", topic.ID, err)
		r.monitor.RecordFailure(ctx, health.CategoryReply, "empty AI response")
		return FailedAt(StageGeneration, err.Error())
	}

	post, err := r.forum.CreatePost(ctx, agent.ID, topic.ID, content)
	if err != nil {
		var valErr *store.ValidationError
		detail := err.Error()
		if errors.As(err, &valErr) {
			detail = strings.Join(valErr.Messages, ", ")
		}
		log.Printf("[replier] failed to create post for topic #%d: %s", topic.ID, detail)
		r.monitor.RecordFailure(ctx, health.CategoryReply, detail)
		return FailedAt(StagePersistence, detail)
	}

	if err := r.ledger.SetCooldown(ctx, topic.ID); err != nil {
		// The reply exists; a missing cooldown marker only risks an early
		// revisit, so log and carry on.
		log.Printf("[replier] setting cooldown for topic #%d failed: %v", topic.ID, err)
	}

	log.Printf("[replier] successfully created reply for topic #%d (post #%d)", topic.ID, post.ID)
	r.monitor.RecordSuccess(ctx, health.CategoryReply)
	return Succeeded(post.ID)
}

// checkEligibility re-validates the topic at attempt time; selection may be
// minutes old and other attempts may have changed state since.
func (r *Replier) checkEligibility(ctx context.Context, topic *types.Topic) (string, bool) {
	switch {
	case topic.Closed:
		return "topic is closed", false
	case topic.Archived:
		return "topic is archived", false
	case topic.Deleted():
		return "topic is deleted", false
	case topic.Archetype == types.ArchetypePrivateMessage:
		return "topic is a private message", false
	}

	cooling, err := r.ledger.InCooldown(ctx, topic.ID)
	if err != nil {
		return fmt.Sprintf("cooldown check failed: %v", err), false
	}
	if cooling {
		return "topic is in cooldown", false
	}

	if minAge := r.cfg.MinTopicAge(); minAge > 0 {
		if topic.CreatedAt.After(r.now().Add(-minAge)) {
			return "topic is too young", false
		}
	}

	return "", true
}

// selectAgent picks one agent account uniformly at random from the pool.
func (r *Replier) selectAgent(ctx context.Context) (types.User, bool) {
	agents, err := r.forum.AgentUsers(ctx)
	if err != nil {
		log.Printf("[replier] agent user lookup failed: %v", err)
		return types.User{}, false
	}
	if len(agents) == 0 {
		return types.User{}, false
	}
	return agents[r.rng.Intn(len(agents))], true
}

// preparePrompt builds the prompt from the topic's opening post only. A
// missing or empty first post yields an empty prompt, which is still
// forwarded.
func (r *Replier) preparePrompt(ctx context.Context, topic *types.Topic) string {
	first, err := r.forum.FirstPost(ctx, topic.ID)
	if err != nil {
		log.Printf("[replier] first post lookup for topic #%d failed: %v", topic.ID, err)
		return ""
	}
	if first == nil {
		return ""
	}
	return first.Raw
}
