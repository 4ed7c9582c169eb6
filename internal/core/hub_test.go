package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// twoUsersInRoom builds the fixture used by most scenarios: user a on
// connections a1 and a2, user b on b1, all live in r1.
func twoUsersInRoom(t *testing.T, opts ...Option) (*Hub, *fakeStore, *Client, *Client, *Client) {
	t.Helper()

	st := newFakeStore()
	hub := NewHub(fakeAuth{}, st, opts...)

	a1 := connect(t, hub, "a1", "a")
	a2 := connect(t, hub, "a2", "a")
	b1 := connect(t, hub, "b1", "b")
	for _, c := range []*Client{a1, a2, b1} {
		join(t, hub, c, "r1")
	}
	for _, c := range []*Client{a1, a2, b1} {
		drain(c)
	}
	return hub, st, a1, a2, b1
}

func TestHubMessageReachesEveryConnectionOnce(t *testing.T) {
	hub, st, a1, a2, b1 := twoUsersInRoom(t)

	err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if st.count() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", st.count())
	}

	for _, c := range []*Client{a1, a2, b1} {
		events := drain(c)
		if n := countKind(events, EventRoomMessage); n != 1 {
			t.Fatalf("%s: expected exactly one message event, got %d", c.ID, n)
		}
		msg := events[0].Message
		if msg.Room != "r1" || msg.From != "a" || msg.Text != "hi" || msg.ID != 1 {
			t.Fatalf("%s: unexpected message %+v", c.ID, msg)
		}
	}
}

func TestHubMessageReachesSenderDeviceOutsideRoom(t *testing.T) {
	st := newFakeStore()
	hub := NewHub(fakeAuth{}, st, WithPresence(false))

	a1 := connect(t, hub, "a1", "a")
	a2 := connect(t, hub, "a2", "a") // never joins r1
	b1 := connect(t, hub, "b1", "b")
	join(t, hub, a1, "r1")
	join(t, hub, b1, "r1")

	if err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, c := range []*Client{a1, a2, b1} {
		if n := countKind(drain(c), EventRoomMessage); n != 1 {
			t.Fatalf("%s: expected one message event, got %d", c.ID, n)
		}
	}
}

func TestHubTypingSkipsOrigin(t *testing.T) {
	hub, _, a1, a2, b1 := twoUsersInRoom(t)

	if err := hub.Handle(context.Background(), b1, &Command{Kind: CommandTyping, Room: "r1"}); err != nil {
		t.Fatalf("typing: %v", err)
	}

	for _, c := range []*Client{a1, a2} {
		events := drain(c)
		if countKind(events, EventTyping) != 1 {
			t.Fatalf("%s: expected typing event, got %+v", c.ID, events)
		}
		if events[0].Room != "r1" || events[0].User != "b" {
			t.Fatalf("%s: unexpected typing event %+v", c.ID, events[0])
		}
	}
	if events := drain(b1); len(events) != 0 {
		t.Fatalf("origin received its own typing signal: %+v", events)
	}

	if err := hub.Handle(context.Background(), b1, &Command{Kind: CommandStopTyping, Room: "r1"}); err != nil {
		t.Fatalf("stop typing: %v", err)
	}
	mustEvent(t, a1.Events, EventStopTyping)
	if events := drain(b1); len(events) != 0 {
		t.Fatalf("origin received its own stop typing signal: %+v", events)
	}
}

func TestHubDisconnectedDeviceGetsNothing(t *testing.T) {
	hub, _, a1, a2, b1 := twoUsersInRoom(t)

	hub.Disconnect(a2)
	drain(a2)

	if err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "still here"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if n := countKind(drain(a1), EventRoomMessage); n != 1 {
		t.Fatalf("a1: expected one message, got %d", n)
	}
	if n := countKind(drain(b1), EventRoomMessage); n != 1 {
		t.Fatalf("b1: expected one message, got %d", n)
	}
	if events := drain(a2); len(events) != 0 {
		t.Fatalf("a2 received events after disconnect: %+v", events)
	}

	for _, id := range hub.Rooms().MembersOf("r1") {
		if id == a2.ID {
			t.Fatalf("a2 still listed in r1")
		}
	}
	if got := len(hub.Registry().ConnectionsForUser("a")); got != 1 {
		t.Fatalf("expected 1 live connection for a, got %d", got)
	}
}

func TestHubPersistenceFailureSuppressesBroadcast(t *testing.T) {
	hub, st, a1, a2, b1 := twoUsersInRoom(t)
	st.setFail(errors.New("database is locked"))

	err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "lost"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if ce := AsCoreError(err); ce.Code != ErrCodePersistence {
		t.Fatalf("unexpected code %q", ce.Code)
	}

	for _, c := range []*Client{a1, a2, b1} {
		if events := drain(c); countKind(events, EventRoomMessage) != 0 {
			t.Fatalf("%s: message broadcast despite failed persist", c.ID)
		}
	}
}

func TestHubEmptyMessageRejected(t *testing.T) {
	hub, st, a1, _, b1 := twoUsersInRoom(t)

	err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if st.count() != 0 {
		t.Fatalf("empty message was persisted")
	}
	if events := drain(b1); len(events) != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestHubCommandsBeforeSetup(t *testing.T) {
	hub := NewHub(fakeAuth{}, newFakeStore())
	c := NewClient("c1", 8)
	hub.Connect(c)

	for _, cmd := range []*Command{
		{Kind: CommandJoinRoom, Room: "r1"},
		{Kind: CommandSendRoomMessage, Room: "r1", Text: "hi"},
		{Kind: CommandTyping, Room: "r1"},
	} {
		if err := hub.Handle(context.Background(), c, cmd); !errors.Is(err, ErrNotRegistered) {
			t.Fatalf("%v before setup: expected ErrNotRegistered, got %v", cmd.Kind, err)
		}
	}
	if hub.Rooms().Len() != 0 {
		t.Fatalf("room index changed by unauthenticated connection")
	}
}

func TestHubSetupRules(t *testing.T) {
	hub := NewHub(fakeAuth{}, newFakeStore())
	ctx := context.Background()

	c := NewClient("c1", 8)
	hub.Connect(c)
	if err := hub.Handle(ctx, c, &Command{Kind: CommandSetup, Credential: "garbage"}); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if c.State() != StateUnauthenticated {
		t.Fatalf("state changed after failed setup: %v", c.State())
	}

	if err := hub.Handle(ctx, c, &Command{Kind: CommandSetup, Credential: "token-a"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := hub.Handle(ctx, c, &Command{Kind: CommandSetup, Credential: "token-a"}); err != nil {
		t.Fatalf("repeated setup with same identity: %v", err)
	}
	if n := countKind(drain(c), EventConnected); n != 2 {
		t.Fatalf("expected two acknowledgements, got %d", n)
	}

	err := hub.Handle(ctx, c, &Command{Kind: CommandSetup, Credential: "token-b"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if u, _ := c.User(); u.ID != "a" {
		t.Fatalf("identity changed to %q", u.ID)
	}
}

func TestHubInvalidEvents(t *testing.T) {
	hub, _, a1, _, _ := twoUsersInRoom(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  *Command
		code string
	}{
		{"nil command", nil, ErrCodeInvalidMessage},
		{"join without room", &Command{Kind: CommandJoinRoom}, ErrCodeBadRequest},
		{"message without room", &Command{Kind: CommandSendRoomMessage, Text: "x"}, ErrCodeBadRequest},
		{"message to unjoined room", &Command{Kind: CommandSendRoomMessage, Room: "r2", Text: "x"}, ErrCodeNotInRoom},
		{"typing in unjoined room", &Command{Kind: CommandTyping, Room: "r2"}, ErrCodeNotInRoom},
		{"unknown kind", &Command{Kind: CommandKind(99), Room: "r1"}, ErrCodeInvalidMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := hub.Handle(ctx, a1, tc.cmd)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
			if ce := AsCoreError(err); ce.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, ce.Code)
			}
		})
	}

	// The connection keeps working after rejected commands.
	if err := hub.Handle(ctx, a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "ok"}); err != nil {
		t.Fatalf("send after invalid events: %v", err)
	}
}

func TestHubMembershipChecked(t *testing.T) {
	st := newFakeStore()
	st.addMember("r1", "a")
	hub := NewHub(fakeAuth{}, st, WithMembership(st))

	a1 := connect(t, hub, "a1", "a")
	b1 := connect(t, hub, "b1", "b")

	join(t, hub, a1, "r1")
	err := hub.Handle(context.Background(), b1, &Command{Kind: CommandJoinRoom, Room: "r1"})
	if !errors.Is(err, ErrInvalidEvent) || AsCoreError(err).Code != ErrCodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if hub.Rooms().Contains(b1.ID, "r1") {
		t.Fatalf("non-member joined r1")
	}
}

func TestHubJoinIsIdempotent(t *testing.T) {
	hub, _, a1, _, _ := twoUsersInRoom(t)

	before := len(hub.Rooms().MembersOf("r1"))
	join(t, hub, a1, "r1")
	if after := len(hub.Rooms().MembersOf("r1")); after != before {
		t.Fatalf("membership changed on repeated join: %d -> %d", before, after)
	}
}

func TestHubPresence(t *testing.T) {
	st := newFakeStore()
	hub := NewHub(fakeAuth{}, st)

	a1 := connect(t, hub, "a1", "a")
	join(t, hub, a1, "r1")

	b1 := connect(t, hub, "b1", "b")
	join(t, hub, b1, "r1")
	ev := mustEvent(t, a1.Events, EventUserJoined)
	if ev.User != "b" || ev.Room != "r1" {
		t.Fatalf("unexpected join event: %+v", ev)
	}
	if n := countKind(drain(b1), EventUserJoined); n != 0 {
		t.Fatalf("joiner notified about itself")
	}

	// A second device of a user already online in the room is not news.
	a2 := connect(t, hub, "a2", "a")
	join(t, hub, a2, "r1")
	if n := countKind(drain(b1), EventUserJoined); n != 0 {
		t.Fatalf("second device produced a presence event")
	}

	hub.Disconnect(b1)
	for _, c := range []*Client{a1, a2} {
		left := mustEvent(t, c.Events, EventUserLeft)
		if left.User != "b" || left.Room != "r1" {
			t.Fatalf("%s: unexpected leave event %+v", c.ID, left)
		}
	}

	hub.Disconnect(a2)
	drain(a1)
	hub.Disconnect(a1)
	if hub.Registry().Len() != 0 || hub.Rooms().Len() != 0 {
		t.Fatalf("state left behind: %d connections, %d rooms", hub.Registry().Len(), hub.Rooms().Len())
	}
}

func TestHubConcurrentDevicesAnnounceOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		hub := NewHub(fakeAuth{}, newFakeStore())
		observer := connect(t, hub, "b1", "b")
		join(t, hub, observer, "r1")
		a1 := connect(t, hub, "a1", "a")
		a2 := connect(t, hub, "a2", "a")

		var wg sync.WaitGroup
		for _, c := range []*Client{a1, a2} {
			c := c
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := hub.Handle(context.Background(), c, &Command{Kind: CommandJoinRoom, Room: "r1"}); err != nil {
					t.Errorf("join %s: %v", c.ID, err)
				}
			}()
		}
		wg.Wait()
		if n := countKind(drain(observer), EventUserJoined); n != 1 {
			t.Fatalf("iteration %d: %d user_joined events for two devices", i, n)
		}

		for _, c := range []*Client{a1, a2} {
			c := c
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Disconnect(c)
			}()
		}
		wg.Wait()
		if n := countKind(drain(observer), EventUserLeft); n != 1 {
			t.Fatalf("iteration %d: %d user_left events for two devices", i, n)
		}
	}
}

func TestHubLeaveRoom(t *testing.T) {
	hub, _, a1, a2, b1 := twoUsersInRoom(t)
	ctx := context.Background()

	if err := hub.Handle(ctx, b1, &Command{Kind: CommandLeaveRoom, Room: "r1"}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	mustEvent(t, a1.Events, EventUserLeft)
	mustEvent(t, a2.Events, EventUserLeft)

	// Leaving again is harmless.
	if err := hub.Handle(ctx, b1, &Command{Kind: CommandLeaveRoom, Room: "r1"}); err != nil {
		t.Fatalf("second leave: %v", err)
	}

	err := hub.Handle(ctx, b1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "hello?"})
	if AsCoreError(err).Code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room after leave, got %v", err)
	}
}

func TestHubConcurrentDisconnect(t *testing.T) {
	hub, _, a1, _, b1 := twoUsersInRoom(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Disconnect(a1)
		}()
	}
	wg.Wait()

	if a1.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", a1.State())
	}
	if hub.Rooms().Contains(a1.ID, "r1") {
		t.Fatalf("a1 still in r1")
	}
	if _, ok := hub.Registry().Lookup(a1.ID); ok {
		t.Fatalf("a1 still registered")
	}
	// No presence event: user a still has a2 in the room.
	if n := countKind(drain(b1), EventUserLeft); n != 0 {
		t.Fatalf("unexpected user_left while a2 is online")
	}

	err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSetup, Credential: "token-a"})
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("setup on closed connection: expected ErrNotRegistered, got %v", err)
	}
}

func TestHubSlowConsumerEvicted(t *testing.T) {
	st := newFakeStore()
	hub := NewHub(fakeAuth{}, st, WithPresence(false))

	a1 := connect(t, hub, "a1", "a")
	slow := NewClient("slow", 1)
	hub.Connect(slow)
	if err := hub.Handle(context.Background(), slow, &Command{Kind: CommandSetup, Credential: "token-s"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	// The ack fills the single-slot queue and is never read.
	join(t, hub, a1, "r1")
	join(t, hub, slow, "r1")

	if err := hub.Handle(context.Background(), a1, &Command{Kind: CommandSendRoomMessage, Room: "r1", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow consumer was not evicted")
	}
	if slow.CloseReason() != CloseSlowConsumer {
		t.Fatalf("unexpected close reason %q", slow.CloseReason())
	}
	if n := countKind(drain(a1), EventRoomMessage); n != 1 {
		t.Fatalf("fast member missed the message")
	}
}

func TestHubShutdownClosesConnections(t *testing.T) {
	hub := NewHub(fakeAuth{}, newFakeStore())
	a1 := connect(t, hub, "a1", "a")
	pending := NewClient("p1", 4)
	hub.Connect(pending)

	hub.Shutdown()

	for _, c := range []*Client{a1, pending} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("%s not closed on shutdown", c.ID)
		}
	}
}
