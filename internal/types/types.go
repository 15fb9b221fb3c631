package types

import "time"

// Archetype distinguishes regular discussion topics from private messages.
type Archetype string

const (
	ArchetypeRegular        Archetype = "regular"
	ArchetypePrivateMessage Archetype = "private_message"
)

// Topic represents a discussion thread
type Topic struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Archetype    Archetype  `json:"archetype"`
	Closed       bool       `json:"closed"`
	Archived     bool       `json:"archived"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	UserID       int64      `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	LastPostedAt time.Time  `json:"last_posted_at"`
	PostsCount   int        `json:"posts_count"`
	Views        int        `json:"views"`
}

// Deleted reports whether the topic has been soft-deleted.
func (t *Topic) Deleted() bool {
	return t.DeletedAt != nil
}

// Post represents a single post inside a topic
type Post struct {
	ID         int64      `json:"id"`
	TopicID    int64      `json:"topic_id"`
	UserID     int64      `json:"user_id"`
	PostNumber int        `json:"post_number"`
	Raw        string     `json:"raw"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// User represents a forum user account. AI agent accounts are ordinary
// users whose email starts with the configured agent prefix.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
