package core

import "sync"

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateRegistered
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultEventBuffer is the outbound queue size used when none is given.
const DefaultEventBuffer = 64

// Reasons reported by Client.CloseReason.
const (
	CloseDisconnected = "disconnected"
	CloseSlowConsumer = "slow consumer"
	CloseShuttingDown = "server shutting down"
)

// Client is one physical connection as seen by the core layer.
//
// Events is written only by the hub and is never closed; readers select on
// Done to learn that the connection is gone.
type Client struct {
	ID     string
	Events chan *Event

	// mu guards state and user. Transitions take the write lock; operations
	// that must not race with teardown (join) hold the read lock.
	mu    sync.RWMutex
	state ConnState
	user  Identity

	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

// NewClient constructs an unauthenticated client with an outbound queue of
// the given size.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Client{
		ID:     id,
		Events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// User returns the identity bound at setup. ok is false before setup.
func (c *Client) User() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user.ID != ""
}

// Done is closed once the connection is torn down or evicted.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// CloseReason reports why Done was closed.
func (c *Client) CloseReason() string {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// deliver enqueues an event without blocking. It reports false when the
// connection is gone or its queue is full.
func (c *Client) deliver(ev *Event) (ok, overflow bool) {
	select {
	case <-c.done:
		return false, false
	default:
	}
	select {
	case c.Events <- ev:
		return true, false
	case <-c.done:
		return false, false
	default:
		return false, true
	}
}
