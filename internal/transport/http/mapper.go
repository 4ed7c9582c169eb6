package http

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// inboundToCommand decodes one client frame. A non-nil *proto.Error means the
// frame is rejected; it is reported to the sender and the connection stays
// open unless the caller decides otherwise.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeSetup:
		var setup proto.SetupData
		if perr := unmarshal(inbound.Data, &setup); perr != nil {
			return nil, perr
		}
		if setup.Protocol > proto.ProtocolVersion {
			return nil, &proto.Error{Code: core.ErrCodeUnsupportedVersion, Msg: "unsupported protocol version"}
		}
		if perr := validate(&setup); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandSetup, Credential: setup.Token}, nil
	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeTyping, proto.InboundTypeStopTyping:
		var room proto.RoomData
		if perr := decode(inbound.Data, &room); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: roomCommandKinds[inbound.Type], Room: room.Room}, nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if perr := decode(inbound.Data, &msg); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandSendRoomMessage, Room: msg.Room, Text: msg.Text}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

var roomCommandKinds = map[string]core.CommandKind{
	proto.InboundTypeJoin:       core.CommandJoinRoom,
	proto.InboundTypeLeave:      core.CommandLeaveRoom,
	proto.InboundTypeTyping:     core.CommandTyping,
	proto.InboundTypeStopTyping: core.CommandStopTyping,
}

func decode(data json.RawMessage, v any) *proto.Error {
	if perr := unmarshal(data, v); perr != nil {
		return perr
	}
	return validate(v)
}

func unmarshal(data json.RawMessage, v any) *proto.Error {
	if len(data) == 0 {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "missing data"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "malformed data"}
	}
	return nil
}

func validate(v any) *proto.Error {
	if err := proto.Validate(v); err != nil {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	}
	return nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return eventFrame(proto.EventConnected, proto.EventConnectedData{
			User:     event.User,
			Name:     event.UserName,
			Protocol: proto.ProtocolVersion,
		})
	case core.EventRoomMessage:
		return eventFrame(proto.EventMessage, messageData(event.Message))
	case core.EventTyping:
		return eventFrame(proto.EventTyping, roomUserData(event))
	case core.EventStopTyping:
		return eventFrame(proto.EventStopTyping, roomUserData(event))
	case core.EventUserJoined:
		return eventFrame(proto.EventUserJoined, roomUserData(event))
	case core.EventUserLeft:
		return eventFrame(proto.EventUserLeft, roomUserData(event))
	case core.EventError:
		if event.Error == nil {
			return errorFrame(&proto.Error{Code: "unknown", Msg: "unknown error"})
		}
		return errorFrame(&proto.Error{Code: event.Error.Code, Msg: event.Error.Message})
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func eventFrame(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func errorFrame(perr *proto.Error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: perr}
}

func errorFrameFrom(err error) proto.Outbound {
	ce := core.AsCoreError(err)
	return errorFrame(&proto.Error{Code: ce.Code, Msg: ce.Message})
}

func messageData(msg core.Message) proto.EventMessageData {
	return proto.EventMessageData{
		ID:   msg.ID,
		Room: msg.Room,
		User: msg.From,
		Name: msg.FromName,
		Text: msg.Text,
		TS:   msg.CreatedAt.UnixMilli(),
	}
}

func storedMessageData(m *store.Message) proto.EventMessageData {
	return proto.EventMessageData{
		ID:   m.ID,
		Room: m.RoomID,
		User: m.UserID,
		Name: m.Username,
		Text: m.Body,
		TS:   m.CreatedAt.UnixMilli(),
	}
}

func roomUserData(event *core.Event) proto.EventRoomUserData {
	return proto.EventRoomUserData{Room: event.Room, User: event.User, Name: event.UserName}
}
