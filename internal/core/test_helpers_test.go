package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Commands are handled synchronously and delivery only enqueues, so by the
// time Handle returns every resulting event is already buffered.

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain returns everything currently queued for the client.
func drain(c *Client) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-c.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fakeAuth struct{}

// Validate accepts "token-<id>" and names the user after the id.
func (fakeAuth) Validate(_ context.Context, credential string) (Identity, error) {
	const prefix = "token-"
	if len(credential) <= len(prefix) || credential[:len(prefix)] != prefix {
		return Identity{}, errors.New("bad token")
	}
	id := credential[len(prefix):]
	return Identity{ID: id, Name: "user " + id}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	saved   []*store.Message
	fail    error
	members map[string]map[string]bool // room -> user -> member
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: make(map[string]map[string]bool)}
}

func (s *fakeStore) Persist(_ context.Context, roomID, userID, body string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.nextID++
	msg := &store.Message{ID: s.nextID, RoomID: roomID, UserID: userID, Body: body, CreatedAt: time.Now().UTC()}
	s.saved = append(s.saved, msg)
	return msg, nil
}

func (s *fakeStore) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[roomID][userID], nil
}

func (s *fakeStore) addMember(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]bool)
	}
	s.members[roomID][userID] = true
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// connect accepts a client and runs setup for the given user id.
func connect(t *testing.T, hub *Hub, connID, userID string) *Client {
	t.Helper()

	c := NewClient(connID, 32)
	hub.Connect(c)
	if err := hub.Handle(context.Background(), c, &Command{Kind: CommandSetup, Credential: "token-" + userID}); err != nil {
		t.Fatalf("setup %s: %v", connID, err)
	}
	mustEvent(t, c.Events, EventConnected)
	return c
}

func join(t *testing.T, hub *Hub, c *Client, room string) {
	t.Helper()

	if err := hub.Handle(context.Background(), c, &Command{Kind: CommandJoinRoom, Room: room}); err != nil {
		t.Fatalf("join %s -> %s: %v", c.ID, room, err)
	}
}
