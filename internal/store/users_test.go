package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

func TestAgentUsers_MatchesEmailPrefix(t *testing.T) {
	s := newTestStore(t)
	_, agent := seedUsers(t, s)
	ctx := context.Background()

	second := types.User{
		ID:        21,
		Username:  "helper_two",
		Email:     "fungps_two@example.com",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateUser(ctx, &second))

	agents, err := s.AgentUsers(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, agent.ID, agents[0].ID)
	assert.Equal(t, second.ID, agents[1].ID)
}

func TestActiveAgentUsers(t *testing.T) {
	s := newTestStore(t)
	_, agent := seedUsers(t, s)
	ctx := context.Background()

	stale := types.User{
		ID:         22,
		Username:   "helper_stale",
		Email:      "fungps_stale@example.com",
		CreatedAt:  time.Now().Add(-60 * 24 * time.Hour),
		LastSeenAt: time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, s.CreateUser(ctx, &stale))

	active, err := s.ActiveAgentUsers(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, agent.ID, active[0].ID)
}

func TestRecentAgentReplyCount(t *testing.T) {
	s := newTestStore(t)
	regular, agent := seedUsers(t, s)
	ctx := context.Background()

	first := seedTopic(t, s, types.Topic{Title: "one", PostsCount: 1})
	second := seedTopic(t, s, types.Topic{Title: "two", PostsCount: 1})

	_, err := s.CreatePost(ctx, agent.ID, first, "Agent reply number one, long enough.")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, agent.ID, second, "Agent reply number two, long enough.")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, regular.ID, first, "Human reply should not be counted here.")
	require.NoError(t, err)

	count, err := s.RecentAgentReplyCount(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.RecentAgentReplyCount(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
