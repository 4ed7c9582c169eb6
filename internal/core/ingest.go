package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPersistTimeout bounds a single store write.
const DefaultPersistTimeout = 5 * time.Second

// Ingest persists inbound messages. A message leaves Submit only after the
// store accepted it, so anything broadcast is already in history.
type Ingest struct {
	store   MessageStore
	timeout time.Duration
	log     *zerolog.Logger
}

// NewIngest builds an ingest pipeline on top of a message store.
func NewIngest(st MessageStore, timeout time.Duration, logger *zerolog.Logger) *Ingest {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Ingest{store: st, timeout: timeout, log: logger}
}

// Submit validates and persists a message. It fails with ErrEmptyMessage
// for blank content and ErrPersistence when the store is unavailable.
func (i *Ingest) Submit(ctx context.Context, roomID string, sender Identity, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, coreError(ErrEmptyMessage, ErrCodeEmptyMessage, "message is empty")
	}
	if i.store == nil {
		return Message{}, coreError(ErrPersistence, ErrCodePersistence, "message store unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	stored, err := i.store.Persist(ctx, roomID, sender.ID, content)
	if err != nil {
		i.log.Error().Err(err).Str("room", roomID).Str("user_id", sender.ID).Msg("persist message")
		return Message{}, &CoreError{
			Code:    ErrCodePersistence,
			Message: "message could not be stored",
			Err:     fmt.Errorf("%w: %w", ErrPersistence, err),
		}
	}
	if stored == nil {
		return Message{}, coreError(ErrPersistence, ErrCodePersistence, "message store returned nothing")
	}

	return messageFromStore(stored, sender), nil
}
