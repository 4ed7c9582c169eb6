package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Hub routes client commands: it owns the connection registry and the live
// room index, runs messages through the ingest pipeline and fans events out.
//
// Handle is called synchronously from each connection's read goroutine, so
// commands from one connection are processed in order. Fan-out always works
// on a membership snapshot taken outside any lock.
type Hub struct {
	registry *Registry
	rooms    *RoomIndex
	ingest   *Ingest
	auth     Authenticator
	members  MembershipChecker
	presence bool
	log      *zerolog.Logger

	liveMu sync.Mutex
	live   map[string]*Client // every accepted connection, registered or not

	// presenceMu pairs a RoomIndex change with the "first/last device of
	// this user" decision so concurrent devices agree on who announces.
	presenceMu sync.Mutex
}

// Option configures a Hub.
type Option func(*hubOptions)

type hubOptions struct {
	logger         *zerolog.Logger
	members        MembershipChecker
	presence       bool
	persistTimeout time.Duration
}

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *hubOptions) { o.logger = logger }
}

// WithMembership makes join and send check authoritative room membership.
// Without it any registered connection may join any room.
func WithMembership(checker MembershipChecker) Option {
	return func(o *hubOptions) { o.members = checker }
}

// WithPresence toggles user_joined/user_left broadcasts.
func WithPresence(enabled bool) Option {
	return func(o *hubOptions) { o.presence = enabled }
}

// WithPersistTimeout bounds each message store write.
func WithPersistTimeout(d time.Duration) Option {
	return func(o *hubOptions) { o.persistTimeout = d }
}

// NewHub creates a new chat hub instance.
func NewHub(auth Authenticator, messages MessageStore, opts ...Option) *Hub {
	o := hubOptions{presence: true, persistTimeout: DefaultPersistTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}

	return &Hub{
		registry: NewRegistry(o.logger),
		rooms:    NewRoomIndex(),
		ingest:   NewIngest(messages, o.persistTimeout, o.logger),
		auth:     auth,
		members:  o.members,
		presence: o.presence,
		log:      o.logger,
		live:     make(map[string]*Client),
	}
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms exposes the live room index.
func (h *Hub) Rooms() *RoomIndex { return h.rooms }

// Handle processes a single command from a connection. Any returned error
// concerns only this connection; the caller reports it back to the client.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd *Command) error {
	err := h.handle(ctx, c, cmd)
	if err != nil {
		ce := AsCoreError(err)
		ev := h.log.Warn()
		if errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrInvalidEvent) {
			ev = h.log.Debug()
		}
		ev.Err(err).Str("conn_id", c.ID).Str("code", ce.Code).Msg("command rejected")
	}
	return err
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) error {
	if cmd == nil {
		return invalidEvent(ErrCodeInvalidMessage, "empty command")
	}
	if cmd.Kind == CommandSetup {
		return h.setup(ctx, c, cmd.Credential)
	}

	user, ok := registeredUser(c)
	if !ok {
		return coreError(ErrNotRegistered, ErrCodeNotRegistered, "setup required")
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		return h.join(ctx, c, user, cmd.Room)
	case CommandLeaveRoom:
		return h.leave(c, user, cmd.Room)
	case CommandSendRoomMessage:
		return h.sendMessage(ctx, c, user, cmd.Room, cmd.Text)
	case CommandTyping, CommandStopTyping:
		return h.typing(c, user, cmd)
	default:
		return invalidEvent(ErrCodeInvalidMessage, "unknown command")
	}
}

func registeredUser(c *Client) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateRegistered {
		return Identity{}, false
	}
	return c.user, true
}

func (h *Hub) join(ctx context.Context, c *Client, user Identity, roomID string) error {
	if roomID == "" {
		return invalidEvent(ErrCodeBadRequest, "room is required")
	}
	if err := h.checkMember(ctx, roomID, user); err != nil {
		return err
	}

	// Hold the read lock so a concurrent Disconnect cannot run LeaveAll
	// between the state check and the join.
	c.mu.RLock()
	if c.state != StateRegistered {
		c.mu.RUnlock()
		return coreError(ErrNotRegistered, ErrCodeNotRegistered, "connection closed")
	}
	h.presenceMu.Lock()
	firstForUser := !h.userLiveIn(user.ID, roomID, "")
	added := h.rooms.Join(c.ID, roomID)
	h.presenceMu.Unlock()
	c.mu.RUnlock()

	if added {
		h.log.Debug().Str("conn_id", c.ID).Str("user_id", user.ID).Str("room", roomID).Msg("joined room")
		if firstForUser {
			h.broadcastPresence(EventUserJoined, roomID, user, c.ID)
		}
	}
	return nil
}

func (h *Hub) leave(c *Client, user Identity, roomID string) error {
	if roomID == "" {
		return invalidEvent(ErrCodeBadRequest, "room is required")
	}
	h.presenceMu.Lock()
	removed := h.rooms.Leave(c.ID, roomID)
	lastForUser := removed && !h.userLiveIn(user.ID, roomID, "")
	h.presenceMu.Unlock()
	if !removed {
		return nil
	}

	h.log.Debug().Str("conn_id", c.ID).Str("user_id", user.ID).Str("room", roomID).Msg("left room")
	if lastForUser {
		h.broadcastPresence(EventUserLeft, roomID, user, "")
	}
	return nil
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, user Identity, roomID, text string) error {
	if roomID == "" {
		return invalidEvent(ErrCodeBadRequest, "room is required")
	}
	if !h.rooms.Contains(c.ID, roomID) {
		return invalidEvent(ErrCodeNotInRoom, "join the room first")
	}
	if err := h.checkMember(ctx, roomID, user); err != nil {
		return err
	}

	msg, err := h.ingest.Submit(ctx, roomID, user, text)
	if err != nil {
		return err
	}

	// Room members plus every device of the sender, each exactly once.
	own := lo.Map(h.registry.ConnectionsForUser(user.ID), func(cl *Client, _ int) string { return cl.ID })
	targets := lo.Union(h.rooms.MembersOf(roomID), own)

	delivered := h.fanout(targets, &Event{
		Kind:     EventRoomMessage,
		Room:     roomID,
		User:     user.ID,
		UserName: user.Name,
		Message:  msg,
	})
	h.log.Debug().
		Int64("message_id", msg.ID).
		Str("room", roomID).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("message fanned out")
	return nil
}

func (h *Hub) checkMember(ctx context.Context, roomID string, user Identity) error {
	if h.members == nil {
		return nil
	}
	ok, err := h.members.IsMember(ctx, roomID, user.ID)
	if err != nil {
		return &CoreError{Code: ErrCodePersistence, Message: "membership lookup failed", Err: errors.Join(ErrPersistence, err)}
	}
	if !ok {
		return invalidEvent(ErrCodeForbidden, "not a member of this room")
	}
	return nil
}

// fanout delivers ev to every target once and returns how many queues
// accepted it.
func (h *Hub) fanout(targets []string, ev *Event) int {
	delivered := 0
	for _, connID := range targets {
		if h.registry.Send(connID, ev) {
			delivered++
		}
	}
	return delivered
}
