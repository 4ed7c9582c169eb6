package core

import "github.com/samber/lo"

// typing relays typing signals. They are never stored and never echoed back
// to the originating connection.
func (h *Hub) typing(c *Client, user Identity, cmd *Command) error {
	if cmd.Room == "" {
		return invalidEvent(ErrCodeBadRequest, "room is required")
	}
	if !h.rooms.Contains(c.ID, cmd.Room) {
		return invalidEvent(ErrCodeNotInRoom, "join the room first")
	}

	kind := EventTyping
	if cmd.Kind == CommandStopTyping {
		kind = EventStopTyping
	}
	targets := lo.Without(h.rooms.MembersOf(cmd.Room), c.ID)
	h.fanout(targets, &Event{Kind: kind, Room: cmd.Room, User: user.ID, UserName: user.Name})
	return nil
}

// broadcastPresence tells the room's live members that a user came online or
// went offline there. except skips one connection (usually the origin).
func (h *Hub) broadcastPresence(kind EventKind, roomID string, user Identity, except string) {
	if !h.presence {
		return
	}
	targets := h.rooms.MembersOf(roomID)
	if except != "" {
		targets = lo.Without(targets, except)
	}
	h.fanout(targets, &Event{Kind: kind, Room: roomID, User: user.ID, UserName: user.Name})
}

// userLiveIn reports whether any connection of the user other than except is
// live in the room.
func (h *Hub) userLiveIn(userID, roomID, except string) bool {
	for _, connID := range h.rooms.MembersOf(roomID) {
		if connID == except {
			continue
		}
		if u, ok := h.registry.UserOf(connID); ok && u.ID == userID {
			return true
		}
	}
	return false
}
