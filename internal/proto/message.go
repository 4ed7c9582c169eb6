package proto

import (
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSetup      = "setup"
	InboundTypeJoin       = "join"
	InboundTypeLeave      = "leave"
	InboundTypeMsg        = "msg"
	InboundTypeTyping     = "typing"
	InboundTypeStopTyping = "stop_typing"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventConnected  = "connected"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
)

// SetupData authenticates the connection. It must be the first frame.
type SetupData struct {
	Token    string `json:"token" validate:"required"`
	Protocol int    `json:"protocol,omitempty" validate:"gte=0"`
}

// RoomData targets a room (join, leave, typing, stop_typing).
type RoomData struct {
	Room string `json:"room" validate:"required,max=128"`
}

// MsgData is a chat message from the client. Blank text is rejected by the
// core with empty_message, not here.
type MsgData struct {
	Room string `json:"room" validate:"required,max=128"`
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventConnectedData acknowledges setup.
type EventConnectedData struct {
	User     string `json:"user"`
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// EventMessageData is a persisted room message. TS is the store time in Unix
// milliseconds; ID is the ordering key within a room.
type EventMessageData struct {
	ID   int64  `json:"id"`
	Room string `json:"room"`
	User string `json:"user"`
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventRoomUserData carries typing and presence notifications.
type EventRoomUserData struct {
	Room string `json:"room"`
	User string `json:"user"`
	Name string `json:"name,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks struct tags on a decoded payload.
func Validate(v any) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate.Struct(v)
}
