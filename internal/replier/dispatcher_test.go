package replier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

type fakeFetcher struct {
	topics map[int64]*types.Topic
	err    error
}

func (f *fakeFetcher) GetTopic(_ context.Context, id int64) (*types.Topic, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.topics[id], nil
}

type fakeAttempter struct {
	mu       sync.Mutex
	attempts []int64

	inFlight    int32
	maxInFlight int32
	block       time.Duration
}

func (f *fakeAttempter) ReplyTo(_ context.Context, topic *types.Topic) Outcome {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}

	if f.block > 0 {
		time.Sleep(f.block)
	}

	f.mu.Lock()
	f.attempts = append(f.attempts, topic.ID)
	f.mu.Unlock()
	return Succeeded(topic.ID * 10)
}

func (f *fakeAttempter) attempted() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.attempts...)
}

func TestDispatch_RunsAttemptAndWaitDrains(t *testing.T) {
	topic := eligibleTopic()
	fetcher := &fakeFetcher{topics: map[int64]*types.Topic{topic.ID: topic}}
	attempter := &fakeAttempter{}
	d := NewAsyncDispatcher(fetcher, attempter, &fakeRecorder{}, config.Default())

	d.Dispatch(topic.ID)
	d.Wait()

	assert.Equal(t, []int64{topic.ID}, attempter.attempted())
}

func TestDispatch_BoundsConcurrency(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.MaxConcurrentReplies = 2

	topics := map[int64]*types.Topic{}
	for i := int64(1); i <= 8; i++ {
		tp := eligibleTopic()
		tp.ID = i
		topics[i] = tp
	}

	attempter := &fakeAttempter{block: 30 * time.Millisecond}
	d := NewAsyncDispatcher(&fakeFetcher{topics: topics}, attempter, &fakeRecorder{}, cfg)

	for i := int64(1); i <= 8; i++ {
		d.Dispatch(i)
	}
	d.Wait()

	assert.Len(t, attempter.attempted(), 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&attempter.maxInFlight), int32(2),
		"no more than the configured number of attempts may run at once")
}

func TestDispatch_MissingTopicSkipsAttempt(t *testing.T) {
	attempter := &fakeAttempter{}
	rec := &fakeRecorder{}
	d := NewAsyncDispatcher(&fakeFetcher{}, attempter, rec, config.Default())

	d.Dispatch(999)
	d.Wait()

	assert.Empty(t, attempter.attempted())
	assert.Empty(t, rec.events, "a vanished topic is a skip, not a failure")
}

func TestDispatch_InvalidTopicSkipsAttempt(t *testing.T) {
	deletedAt := time.Now()

	closed := eligibleTopic()
	closed.ID = 1
	closed.Closed = true
	archived := eligibleTopic()
	archived.ID = 2
	archived.Archived = true
	deleted := eligibleTopic()
	deleted.ID = 3
	deleted.DeletedAt = &deletedAt

	fetcher := &fakeFetcher{topics: map[int64]*types.Topic{1: closed, 2: archived, 3: deleted}}
	attempter := &fakeAttempter{}
	d := NewAsyncDispatcher(fetcher, attempter, &fakeRecorder{}, config.Default())

	d.Dispatch(1)
	d.Dispatch(2)
	d.Dispatch(3)
	d.Wait()

	assert.Empty(t, attempter.attempted())
}

func TestDispatch_FetchErrorIsRecorded(t *testing.T) {
	attempter := &fakeAttempter{}
	rec := &fakeRecorder{}
	d := NewAsyncDispatcher(&fakeFetcher{err: errors.New("db locked")}, attempter, rec, config.Default())

	d.Dispatch(1)
	d.Wait()

	assert.Empty(t, attempter.attempted())
	require.Len(t, rec.events, 1)
	assert.Equal(t, "failure", rec.events[0].kind)
	assert.Equal(t, health.CategoryJobReply, rec.events[0].category)
}
