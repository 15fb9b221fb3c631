package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// minPostLength matches the forum's shortest acceptable reply body.
const minPostLength = 10

// ValidationError is returned by CreatePost when the reply is rejected. It
// carries every message at once, the way the forum surfaces them to users.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "post validation failed: " + strings.Join(e.Messages, ", ")
}

// FirstPost returns the opening post of a topic, or (nil, nil) if the topic
// has no first post.
func (s *Store) FirstPost(ctx context.Context, topicID int64) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic_id, user_id, post_number, raw, created_at, deleted_at
		FROM posts
		WHERE topic_id = ? AND post_number = 1`, topicID)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// CreatePost validates and persists a reply attributed to userID on the
// given topic, bumping the topic's post count and last-activity time in the
// same transaction. Rejections are reported as *ValidationError.
func (s *Store) CreatePost(ctx context.Context, userID, topicID int64, raw string) (*types.Post, error) {
	topic, err := s.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var messages []string
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		messages = append(messages, "Body can't be empty")
	} else if len(trimmed) < minPostLength {
		messages = append(messages, fmt.Sprintf("Body is too short (minimum is %d characters)", minPostLength))
	}
	switch {
	case topic == nil:
		messages = append(messages, "Topic does not exist")
	case topic.Deleted():
		messages = append(messages, "Topic has been deleted")
	case topic.Closed:
		messages = append(messages, "Topic is closed")
	case topic.Archived:
		messages = append(messages, "Topic is archived")
	}

	var userExists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&userExists); err != nil {
		return nil, err
	}
	if !userExists {
		messages = append(messages, "User does not exist")
	}

	if len(messages) > 0 {
		return nil, &ValidationError{Messages: messages}
	}

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var postNumber int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(post_number), 0) + 1 FROM posts WHERE topic_id = ?`,
		topicID).Scan(&postNumber)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO posts (topic_id, user_id, post_number, raw, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		topicID, userID, postNumber, raw, now)
	if err != nil {
		return nil, err
	}
	postID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE topics
		SET posts_count = posts_count + 1, last_posted_at = ?
		WHERE id = ?`, now, topicID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &types.Post{
		ID:         postID,
		TopicID:    topicID,
		UserID:     userID,
		PostNumber: postNumber,
		Raw:        raw,
		CreatedAt:  now,
	}, nil
}

func scanPost(row *sql.Row) (*types.Post, error) {
	var p types.Post
	var deletedAt sql.NullTime

	err := row.Scan(&p.ID, &p.TopicID, &p.UserID, &p.PostNumber, &p.Raw,
		&p.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}
