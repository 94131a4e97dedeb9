package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by SaveMessage when the sender already stored a
	// message with the same client dedupe id.
	ErrDuplicate = errors.New("duplicate message")
)

// User is a staff member known to the directory.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// Channel is a chat channel.
type Channel struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	ChannelID int64
	UserID    int64
	Body      string
	DedupeID  string // empty means no idempotency key
	CreatedAt time.Time
}

// UserStore handles user lookups.
type UserStore interface {
	// CreateUser creates a new user.
	CreateUser(ctx context.Context, username, displayName string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)
}

// MembershipStore answers channel membership questions.
type MembershipStore interface {
	// ListMembers lists user IDs of all members of a channel.
	ListMembers(ctx context.Context, channelID int64) ([]int64, error)

	// IsMember checks if user is a member of the channel.
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
}

// ChannelStore handles channel persistence.
type ChannelStore interface {
	MembershipStore

	// CreateChannel creates a new channel.
	CreateChannel(ctx context.Context, name string) (*Channel, error)

	// AddMember adds a user to a channel. Adding an existing member is a no-op.
	AddMember(ctx context.Context, channelID, userID int64) error

	// RemoveMember removes a user from a channel.
	RemoveMember(ctx context.Context, channelID, userID int64) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in ID and CreatedAt.
	// It is idempotent on (UserID, DedupeID): a repeat returns ErrDuplicate.
	SaveMessage(ctx context.Context, msg *Message) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
