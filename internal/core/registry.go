package core

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type registration struct {
	client *Client
	user   Identity
}

// Registry tracks live connections by connection id and by owning user.
// A user may hold several connections at once.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]registration
	byUser map[string]map[string]*Client // user id -> conn id -> client
	log    *zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		byConn: make(map[string]registration),
		byUser: make(map[string]map[string]*Client),
		log:    logger,
	}
}

// Register binds a connection to a user. Registering the same connection
// with the same user again is a no-op; with another user it fails with
// ErrAlreadyRegistered.
func (r *Registry) Register(c *Client, user Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byConn[c.ID]; ok {
		if existing.user.ID == user.ID {
			return nil
		}
		return ErrAlreadyRegistered
	}

	r.byConn[c.ID] = registration{client: c, user: user}
	conns := r.byUser[user.ID]
	if conns == nil {
		conns = make(map[string]*Client)
		r.byUser[user.ID] = conns
	}
	conns[c.ID] = c
	return nil
}

// Unregister removes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	if conns := r.byUser[reg.user.ID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, reg.user.ID)
		}
	}
	return reg.client, true
}

// Lookup returns the live client for a connection id.
func (r *Registry) Lookup(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byConn[connID]
	return reg.client, ok
}

// UserOf returns the identity a connection was registered with.
func (r *Registry) UserOf(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byConn[connID]
	return reg.user, ok
}

// ConnectionsForUser returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsForUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byUser[userID])
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Send delivers one event to one connection. It never blocks: a connection
// that vanished since the caller's lookup is skipped, and a connection whose
// queue is full is evicted as a slow consumer.
func (r *Registry) Send(connID string, ev *Event) bool {
	c, ok := r.Lookup(connID)
	if !ok {
		r.log.Debug().Str("conn_id", connID).Msg("send to unknown connection dropped")
		return false
	}

	delivered, overflow := c.deliver(ev)
	if overflow {
		r.log.Warn().Str("conn_id", connID).Msg("outbound queue full, evicting slow consumer")
		c.close(CloseSlowConsumer)
	} else if !delivered {
		r.log.Debug().Str("conn_id", connID).Msg("send to closed connection dropped")
	}
	return delivered
}
