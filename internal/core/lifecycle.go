package core

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

// Connect records a freshly accepted transport connection. The client stays
// unauthenticated until a setup command succeeds.
func (h *Hub) Connect(c *Client) {
	h.liveMu.Lock()
	h.live[c.ID] = c
	n := len(h.live)
	h.liveMu.Unlock()

	h.log.Debug().Str("conn_id", c.ID).Int("connections", n).Msg("connection accepted")
}

// setup authenticates the connection and moves it to StateRegistered.
// Repeating setup with the same identity only repeats the acknowledgement.
func (h *Hub) setup(ctx context.Context, c *Client, credential string) error {
	if h.auth == nil {
		return coreError(ErrAuth, ErrCodeUnauthorized, "authentication unavailable")
	}
	user, err := h.auth.Validate(ctx, credential)
	if err != nil {
		return &CoreError{Code: ErrCodeUnauthorized, Message: "invalid credential", Err: errors.Join(ErrAuth, err)}
	}
	if user.ID == "" {
		return coreError(ErrAuth, ErrCodeUnauthorized, "credential has no subject")
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return coreError(ErrNotRegistered, ErrCodeNotRegistered, "connection closed")
	case StateRegistered:
		same := c.user.ID == user.ID
		c.mu.Unlock()
		if !same {
			return coreError(ErrAlreadyRegistered, ErrCodeAlreadyRegistered, "connection already set up for another user")
		}
	default:
		if regErr := h.registry.Register(c, user); regErr != nil {
			c.mu.Unlock()
			return coreError(ErrAlreadyRegistered, ErrCodeAlreadyRegistered, regErr.Error())
		}
		c.user = user
		c.state = StateRegistered
		c.mu.Unlock()
		h.log.Info().Str("conn_id", c.ID).Str("user_id", user.ID).Str("user", user.Name).Msg("connection registered")
	}

	h.registry.Send(c.ID, &Event{Kind: EventConnected, User: user.ID, UserName: user.Name})
	return nil
}

// Unregister removes a connection from every room and then from the
// registry. Calling it for an unknown connection is a no-op. It returns the
// rooms the connection was live in.
func (h *Hub) Unregister(connID string) []string {
	left := h.rooms.LeaveAll(connID)
	h.registry.Unregister(connID)
	return left
}

// Disconnect moves the client to StateClosed and releases everything it
// held. It is safe to call more than once and from several goroutines;
// only the first call does the teardown.
func (h *Hub) Disconnect(c *Client) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	user := c.user
	c.state = StateClosed
	c.mu.Unlock()

	c.close(CloseDisconnected)

	h.liveMu.Lock()
	delete(h.live, c.ID)
	h.liveMu.Unlock()

	h.presenceMu.Lock()
	left := h.Unregister(c.ID)
	var vacated []string
	if prev == StateRegistered {
		vacated = lo.Filter(left, func(roomID string, _ int) bool {
			return !h.userLiveIn(user.ID, roomID, "")
		})
	}
	h.presenceMu.Unlock()

	for _, roomID := range vacated {
		h.broadcastPresence(EventUserLeft, roomID, user, "")
	}

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", user.ID).
		Int("rooms", len(left)).
		Msg("connection closed")
}

// Shutdown signals every live connection to close. Transports observe
// Client.Done and call Disconnect on their way out.
func (h *Hub) Shutdown() {
	h.liveMu.Lock()
	clients := make([]*Client, 0, len(h.live))
	for _, c := range h.live {
		clients = append(clients, c)
	}
	h.liveMu.Unlock()

	for _, c := range clients {
		c.close(CloseShuttingDown)
	}
	h.log.Info().Int("connections", len(clients)).Msg("hub shutdown requested")
}
