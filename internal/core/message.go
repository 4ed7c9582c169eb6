package core

import (
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Message is the domain model for a chat message. It is never modified after
// the store hands it back.
type Message struct {
	ID        int64
	Room      string
	From      string // sender user id
	FromName  string
	Text      string
	CreatedAt time.Time
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID   string
	Name string
}

func messageFromStore(m *store.Message, sender Identity) Message {
	return Message{
		ID:        m.ID,
		Room:      m.RoomID,
		From:      m.UserID,
		FromName:  sender.Name,
		Text:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}
