package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/types"
)

const userColumns = `id, username, email, created_at, last_seen_at`

// AgentUsers returns the accounts allowed to author automated replies,
// identified by the agent email prefix convention.
func (s *Store) AgentUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email LIKE ?
		ORDER BY id`, s.agentEmailPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ActiveAgentUsers returns agent accounts seen since the given time.
func (s *Store) ActiveAgentUsers(ctx context.Context, since time.Time) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email LIKE ?
		  AND last_seen_at > ?
		ORDER BY id`, s.agentEmailPrefix+"%", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// RecentAgentReplyCount counts replies posted by agent accounts since the
// given time.
func (s *Store) RecentAgentReplyCount(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE u.email LIKE ?
		  AND p.post_number > 1
		  AND p.deleted_at IS NULL
		  AND p.created_at > ?`, s.agentEmailPrefix+"%", since).Scan(&count)
	return count, err
}

// CreateUser inserts a user with an explicit ID; used for seeding and tests.
func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.CreatedAt, u.LastSeenAt)
	return err
}

func scanUsers(rows *sql.Rows) ([]types.User, error) {
	var users []types.User
	for rows.Next() {
		var u types.User
		var lastSeen sql.NullTime

		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			u.LastSeenAt = lastSeen.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
