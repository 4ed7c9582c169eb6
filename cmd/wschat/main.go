package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

type options struct {
	server   string
	token    string
	username string
	password string
	room     string
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "wschat",
		Short: "Interactive WebSocket client for wirechat-relay",
		Long: `Connects to the relay, authenticates and joins a room.

Lines typed are sent to the current room. Commands:
  /join <room>    join a room and make it current
  /leave <room>   leave a room
  /typing         send a typing notification to the current room`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "relay base URL")
	f.StringVar(&opts.token, "token", "", "bearer token (skips login)")
	f.StringVar(&opts.username, "user", "", "username to log in with (guest when empty)")
	f.StringVar(&opts.password, "password", "", "password for --user")
	f.StringVar(&opts.room, "room", "general", "room to join")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token := opts.token
	if token == "" {
		var err error
		if token, err = obtainToken(ctx, opts); err != nil {
			return err
		}
	}

	wsURL, err := websocketURL(opts.server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeSetup, proto.SetupData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: opts.room}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s, room %s\n", wsURL, opts.room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	return writeLoop(ctx, conn, opts.room)
}

func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// obtainToken logs in with --user/--password, or asks for a guest token.
func obtainToken(ctx context.Context, opts options) (string, error) {
	endpoint, body := "/api/guest", []byte(nil)
	if opts.username != "" {
		endpoint = "/api/login"
		body, _ = json.Marshal(map[string]string{"username": opts.username, "password": opts.password})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(opts.server, "/")+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Token == "" {
		return "", fmt.Errorf("request token: %s (%d)", out.Error, resp.StatusCode)
	}
	return out.Token, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

type inboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f inboundFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				fmt.Println("connection closed by server")
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}

		if f.Type == proto.OutboundTypeError && f.Error != nil {
			fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
			continue
		}

		switch f.Event {
		case proto.EventConnected:
			var evt proto.EventConnectedData
			if json.Unmarshal(f.Data, &evt) == nil {
				fmt.Printf("* signed in as %s\n", evt.Name)
			}
		case proto.EventMessage:
			var evt proto.EventMessageData
			if json.Unmarshal(f.Data, &evt) == nil {
				fmt.Printf("[%s] %s: %s\n", evt.Room, displayName(evt.Name, evt.User), evt.Text)
			}
		case proto.EventTyping, proto.EventUserJoined, proto.EventUserLeft:
			var evt proto.EventRoomUserData
			if json.Unmarshal(f.Data, &evt) == nil {
				fmt.Printf("[%s] %s %s\n", evt.Room, displayName(evt.Name, evt.User), describe(f.Event))
			}
		case proto.EventStopTyping:
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, f.Data)
		}
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func describe(event string) string {
	switch event {
	case proto.EventTyping:
		return "is typing..."
	case proto.EventUserJoined:
		return "joined"
	default:
		return "left"
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch cmd, arg, _ := strings.Cut(text, " "); cmd {
			case "/join":
				room = strings.TrimSpace(arg)
				err = send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: room})
			case "/leave":
				err = send(ctx, conn, proto.InboundTypeLeave, proto.RoomData{Room: strings.TrimSpace(arg)})
			case "/typing":
				err = send(ctx, conn, proto.InboundTypeTyping, proto.RoomData{Room: room})
			default:
				err = send(ctx, conn, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: text})
			}
			if err != nil {
				return err
			}
		}
	}
}
