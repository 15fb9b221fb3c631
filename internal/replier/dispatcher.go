package replier

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// attemptTimeout bounds one reply attempt end to end, including generation
// retries and storage writes.
const attemptTimeout = 5 * time.Minute

// TopicFetcher re-reads a candidate by ID at attempt time.
type TopicFetcher interface {
	GetTopic(ctx context.Context, id int64) (*types.Topic, error)
}

// Attempter runs one reply attempt; implemented by Replier.
type Attempter interface {
	ReplyTo(ctx context.Context, topic *types.Topic) Outcome
}

// AsyncDispatcher runs one independent goroutine per selected candidate,
// bounded by the configured concurrency. Attempts are not awaited by the
// selection cycle; Wait drains them at shutdown.
type AsyncDispatcher struct {
	topics  TopicFetcher
	replier Attempter
	monitor Recorder
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher bounded by
// dispatch.max_concurrent_replies.
func NewAsyncDispatcher(topics TopicFetcher, attempter Attempter, monitor Recorder, cfg *config.Config) *AsyncDispatcher {
	return &AsyncDispatcher{
		topics:  topics,
		replier: attempter,
		monitor: monitor,
		sem:     semaphore.NewWeighted(int64(cfg.Dispatch.MaxConcurrentReplies)),
	}
}

// Dispatch schedules one reply attempt for the topic and returns
// immediately. Duplicate dispatches for the same topic are safe: the
// attempt re-checks validity and cooldown before doing anything.
func (d *AsyncDispatcher) Dispatch(topicID int64) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
		defer cancel()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			log.Printf("[dispatcher] attempt for topic #%d timed out waiting for a slot", topicID)
			return
		}
		defer d.sem.Release(1)

		d.process(ctx, topicID)
	}()
}

// Wait blocks until all in-flight attempts finish; used at shutdown.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

func (d *AsyncDispatcher) process(ctx context.Context, topicID int64) {
	topic, err := d.topics.GetTopic(ctx, topicID)
	if err != nil {
		log.Printf("[dispatcher] loading topic #%d failed: %v", topicID, err)
		d.monitor.RecordFailure(ctx, health.CategoryJobReply, err.Error())
		return
	}
	if topic == nil {
		log.Printf("[dispatcher] topic #%d not found", topicID)
		return
	}
	if topic.Closed || topic.Archived || topic.Deleted() {
		log.Printf("[dispatcher] topic #%d is no longer valid for reply", topicID)
		return
	}

	outcome := d.replier.ReplyTo(ctx, topic)
	log.Printf("[dispatcher] topic #%d: %s", topicID, outcome)
}
