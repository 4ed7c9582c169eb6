package core

import (
	"context"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Authenticator turns a client credential into an identity.
// It is consulted once per connection, at setup.
type Authenticator interface {
	Validate(ctx context.Context, credential string) (Identity, error)
}

// MessageStore is the durable side of the ingest pipeline. It assigns the
// message id and timestamp.
type MessageStore interface {
	Persist(ctx context.Context, roomID, senderID, content string) (*store.Message, error)
}

// MembershipChecker answers whether a user belongs to a room at all.
// Live membership (who is connected right now) is tracked by RoomIndex.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}
