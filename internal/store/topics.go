package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

// baseEligibleWhere is the shared filter for reply candidates: open regular
// topics that are not deleted, whose first post survives, that were not
// started by the system account, and that no agent account has replied to.
const baseEligibleWhere = `
	t.archetype = 'regular'
	AND t.closed = 0
	AND t.archived = 0
	AND t.deleted_at IS NULL
	AND t.user_id != ?
	AND fp.deleted_at IS NULL
	AND NOT EXISTS (
		SELECT 1 FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.topic_id = t.id
		  AND p.post_number > 1
		  AND p.deleted_at IS NULL
		  AND u.email LIKE ?
	)`

const topicColumns = `t.id, t.title, t.archetype, t.closed, t.archived,
	t.deleted_at, t.user_id, t.created_at, t.last_posted_at, t.posts_count, t.views`

func (s *Store) agentLikePattern() string {
	return s.agentEmailPrefix + "%"
}

// QuietTopics returns base-eligible topics with at most maxPosts posts,
// newest first.
func (s *Store) QuietTopics(ctx context.Context, maxPosts, limit int) ([]types.Topic, error) {
	query := `
		SELECT ` + topicColumns + `
		FROM topics t
		JOIN posts fp ON fp.topic_id = t.id AND fp.post_number = 1
		WHERE ` + baseEligibleWhere + `
		  AND t.posts_count <= ?
		ORDER BY t.created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query,
		s.systemUserID, s.agentLikePattern(), maxPosts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTopics(rows)
}

// WorthyOldTopics returns base-eligible topics whose last activity predates
// cutoff and that accumulated at least minViews views, most recently active
// first.
func (s *Store) WorthyOldTopics(ctx context.Context, cutoff time.Time, minViews, limit int) ([]types.Topic, error) {
	query := `
		SELECT ` + topicColumns + `
		FROM topics t
		JOIN posts fp ON fp.topic_id = t.id AND fp.post_number = 1
		WHERE ` + baseEligibleWhere + `
		  AND t.last_posted_at < ?
		  AND t.views >= ?
		ORDER BY t.last_posted_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query,
		s.systemUserID, s.agentLikePattern(), cutoff, minViews, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTopics(rows)
}

// GetTopic fetches one topic by ID; a missing topic returns (nil, nil).
func (s *Store) GetTopic(ctx context.Context, id int64) (*types.Topic, error) {
	query := `
		SELECT ` + topicColumns + `
		FROM topics t
		WHERE t.id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// HasAgentReply reports whether any agent account ever replied to the topic.
func (s *Store) HasAgentReply(ctx context.Context, topicID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM posts p
			JOIN users u ON u.id = p.user_id
			WHERE p.topic_id = ?
			  AND p.post_number > 1
			  AND p.deleted_at IS NULL
			  AND u.email LIKE ?
		)`

	var exists bool
	err := s.db.QueryRowContext(ctx, query, topicID, s.agentLikePattern()).Scan(&exists)
	return exists, err
}

// CreateTopic inserts a topic and its first post in one transaction; used
// for seeding and tests. A zero PostsCount is stored as 1 (the first post).
func (s *Store) CreateTopic(ctx context.Context, t *types.Topic, firstPostRaw string) (int64, error) {
	postsCount := t.PostsCount
	if postsCount <= 0 {
		postsCount = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO topics (title, archetype, closed, archived, deleted_at,
			user_id, created_at, last_posted_at, posts_count, views)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Archetype, t.Closed, t.Archived, nullTime(t.DeletedAt),
		t.UserID, t.CreatedAt, t.LastPostedAt, postsCount, t.Views)
	if err != nil {
		return 0, err
	}
	topicID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (topic_id, user_id, post_number, raw, created_at)
		VALUES (?, ?, 1, ?, ?)`,
		topicID, t.UserID, firstPostRaw, t.CreatedAt)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return topicID, nil
}

// SelectionStats summarizes the candidate pool for operators.
type SelectionStats struct {
	TotalEligible int `json:"total_eligible"`
	QuietTopics   int `json:"quiet_topics"`
	OldTopics     int `json:"old_topics"`
}

// CountSelection computes pool sizes for the two waterfall tiers.
func (s *Store) CountSelection(ctx context.Context, maxPosts int, cutoff time.Time, minViews int) (SelectionStats, error) {
	base := `
		SELECT COUNT(*)
		FROM topics t
		JOIN posts fp ON fp.topic_id = t.id AND fp.post_number = 1
		WHERE ` + baseEligibleWhere

	var stats SelectionStats
	err := s.db.QueryRowContext(ctx, base,
		s.systemUserID, s.agentLikePattern()).Scan(&stats.TotalEligible)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx, base+` AND t.posts_count <= ?`,
		s.systemUserID, s.agentLikePattern(), maxPosts).Scan(&stats.QuietTopics)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx, base+` AND t.last_posted_at < ? AND t.views >= ?`,
		s.systemUserID, s.agentLikePattern(), cutoff, minViews).Scan(&stats.OldTopics)
	if err != nil {
		return stats, err
	}

	return stats, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanTopics(rows *sql.Rows) ([]types.Topic, error) {
	var topics []types.Topic
	for rows.Next() {
		var t types.Topic
		var deletedAt sql.NullTime

		err := rows.Scan(
			&t.ID, &t.Title, &t.Archetype, &t.Closed, &t.Archived,
			&deletedAt, &t.UserID, &t.CreatedAt, &t.LastPostedAt,
			&t.PostsCount, &t.Views,
		)
		if err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			t.DeletedAt = &deletedAt.Time
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func scanTopic(row *sql.Row) (*types.Topic, error) {
	var t types.Topic
	var deletedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Title, &t.Archetype, &t.Closed, &t.Archived,
		&deletedAt, &t.UserID, &t.CreatedAt, &t.LastPostedAt,
		&t.PostsCount, &t.Views,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return &t, nil
}
