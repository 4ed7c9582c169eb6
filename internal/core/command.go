package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSetup binds the connection to an authenticated user.
	CommandSetup CommandKind = iota
	// CommandJoinRoom subscribes the connection to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the connection from a room.
	CommandLeaveRoom
	// CommandSendRoomMessage delivers a chat message to room participants.
	CommandSendRoomMessage
	// CommandTyping tells other room members the user started typing.
	CommandTyping
	// CommandStopTyping tells other room members the user stopped typing.
	CommandStopTyping
)

func (k CommandKind) String() string {
	switch k {
	case CommandSetup:
		return "setup"
	case CommandJoinRoom:
		return "join"
	case CommandLeaveRoom:
		return "leave"
	case CommandSendRoomMessage:
		return "msg"
	case CommandTyping:
		return "typing"
	case CommandStopTyping:
		return "stop_typing"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind       CommandKind
	Room       string
	Text       string
	Credential string // setup only
}
