package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Room represents a chat room. Its id is assigned by whoever creates it.
type Room struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	RoomID    string
	UserID    string
	Username  string // filled by ListByRoom, empty after Persist
	Body      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a registered (non-guest) user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles rooms and their authoritative membership.
type RoomStore interface {
	// CreateRoom creates a room and adds the owner as its first member.
	// An empty id asks the store to generate one.
	CreateRoom(ctx context.Context, id, name, ownerID string) (*Room, error)

	// GetRoom retrieves a room by ID.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms lists the rooms a user is a member of.
	ListRooms(ctx context.Context, userID string) ([]*Room, error)

	// AddMember adds a user to a room. Adding an existing member is a no-op.
	AddMember(ctx context.Context, roomID, userID string) error

	// RemoveMember removes a user from a room.
	RemoveMember(ctx context.Context, roomID, userID string) error

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	// ListMembers lists user ids of all members of a room.
	ListMembers(ctx context.Context, roomID string) ([]string, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// Persist stores a message and returns it with the id and creation time
	// assigned by the store.
	Persist(ctx context.Context, roomID, userID, body string) (*Message, error)

	// ListByRoom retrieves messages from a room, oldest first.
	// If beforeID is provided, only messages older than that ID are considered.
	// Limit determines max number of messages to return.
	ListByRoom(ctx context.Context, roomID string, limit int, beforeID *int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
