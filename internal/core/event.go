package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnected acknowledges a successful setup to the caller.
	EventConnected EventKind = iota
	// EventRoomMessage notifies clients about a chat message in a room.
	EventRoomMessage
	// EventTyping notifies room members that a user is typing.
	EventTyping
	// EventStopTyping notifies room members that a user stopped typing.
	EventStopTyping
	// EventUserJoined notifies clients about a user coming online in a room.
	EventUserJoined
	// EventUserLeft notifies clients about a user going offline in a room.
	EventUserLeft
	// EventError notifies a single client about a rejected command.
	EventError
)

// Event is sent to clients to describe what happened in the system.
// Events are shared between recipients and must not be mutated after fan-out.
type Event struct {
	Kind     EventKind
	Room     string
	User     string // user id
	UserName string
	Message  Message
	Error    *CoreError
}
