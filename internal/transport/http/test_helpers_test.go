package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	ts    *httptest.Server
	cfg   config.Config
	store store.Store
	auth  *auth.Service
	hub   *core.Hub
}

// newTestEnv starts a full server on an in-memory database.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.WriteTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	logger := zerolog.Nop()
	hub := core.NewHub(authService, st, cfg.HubOptions(st, &logger)...)

	server := NewServer(hub, authService, st, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		hub.Shutdown()
		ts.Close()
		_ = st.Close()
	})

	return &testEnv{ts: ts, cfg: cfg, store: st, auth: authService, hub: hub}
}

// register creates a user and returns its token and identity.
func (e *testEnv) register(t *testing.T, username string) (string, core.Identity) {
	t.Helper()

	ctx := context.Background()
	token, err := e.auth.Register(ctx, username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	id, err := e.auth.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate %s: %v", username, err)
	}
	return token, id
}

// room creates a room owned by the first identity with the rest as members.
func (e *testEnv) room(t *testing.T, id string, owner core.Identity, members ...core.Identity) {
	t.Helper()

	ctx := context.Background()
	if _, err := e.store.CreateRoom(ctx, id, id, owner.ID); err != nil {
		t.Fatalf("create room %s: %v", id, err)
	}
	for _, m := range members {
		if err := e.store.AddMember(ctx, id, m.ID); err != nil {
			t.Fatalf("add %s to %s: %v", m.ID, id, err)
		}
	}
}

func (e *testEnv) dial(ctx context.Context, t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// frame mirrors proto.Outbound with the payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readUntil returns the first frame accepted by match, skipping the rest.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	return readUntil(ctx, t, conn, func(f frame) bool {
		return f.Type == proto.OutboundTypeEvent && f.Event == event
	})
}

func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()
	f := readUntil(ctx, t, conn, func(f frame) bool { return f.Type == proto.OutboundTypeError })
	if f.Error == nil {
		t.Fatalf("error frame without error body")
	}
	return f.Error
}

// setup authenticates the connection and waits for the acknowledgement.
func setup(ctx context.Context, t *testing.T, conn *websocket.Conn, token string) proto.EventConnectedData {
	t.Helper()

	send(ctx, t, conn, proto.InboundTypeSetup, proto.SetupData{Token: token, Protocol: proto.ProtocolVersion})
	f := readEvent(ctx, t, conn, proto.EventConnected)

	var data proto.EventConnectedData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("unmarshal connected: %v", err)
	}
	return data
}

// joinAndSync joins a room and waits for the echo of a probe message, which
// can only arrive once the join has been applied.
func joinAndSync(ctx context.Context, t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()

	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{Room: room})
	send(ctx, t, conn, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: "sync"})
	readUntil(ctx, t, conn, func(f frame) bool {
		if f.Type == proto.OutboundTypeError {
			t.Fatalf("join %s failed: %+v", room, f.Error)
		}
		return f.Event == proto.EventMessage && strings.Contains(string(f.Data), `"text":"sync"`)
	})
}

func messageOf(t *testing.T, f frame) proto.EventMessageData {
	t.Helper()

	var msg proto.EventMessageData
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

// expectClosed reads until the server closes the connection and returns the
// close status.
func expectClosed(ctx context.Context, t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}
