package realtime

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// EventName is the wire name of a realtime event.
type EventName string

// Inbound events.
const (
	EventSetup      EventName = "setup"
	EventJoinChat   EventName = "join chat"
	EventLeaveChat  EventName = "leave chat"
	EventTyping     EventName = "typing"
	EventStopTyping EventName = "stop typing"
)

// Outbound events.
const (
	EventConnected       EventName = "connected"
	EventMessageReceived EventName = "message received"
	EventError           EventName = "error"
)

var (
	// ErrMalformedEvent is returned for frames that are not valid JSON or
	// lack a required field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for frames naming an event the server
	// does not accept from clients.
	ErrUnknownEvent = errors.New("unknown event")
)

// Frame is the envelope of every websocket text message.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound client event. The concrete types are
// SetupEvent, JoinChatEvent, LeaveChatEvent and TypingEvent.
type Event interface {
	Name() EventName
}

// SetupEvent binds the connection to the user's personal channel.
type SetupEvent struct {
	UserID string
}

// JoinChatEvent subscribes the connection to a chat's typing signals.
type JoinChatEvent struct {
	ChatID string
}

// LeaveChatEvent undoes JoinChatEvent.
type LeaveChatEvent struct {
	ChatID string
}

// TypingEvent starts or stops a typing indicator in a chat.
type TypingEvent struct {
	ChatID string
	Stop   bool
}

func (SetupEvent) Name() EventName     { return EventSetup }
func (JoinChatEvent) Name() EventName  { return EventJoinChat }
func (LeaveChatEvent) Name() EventName { return EventLeaveChat }

func (e TypingEvent) Name() EventName {
	if e.Stop {
		return EventStopTyping
	}
	return EventTyping
}

// TypingPayload is sent to the other viewers of a chat.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

// ErrorPayload is sent back to a client whose event was rejected.
type ErrorPayload struct {
	Message string `json:"message"`
}

// idPayload is the object form of an id-carrying event. The data may also be
// a bare JSON string, or a whole user document keyed by _id.
type idPayload struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	LegacyID string `json:"_id"`
}

func decodeID(data json.RawMessage, pick func(p idPayload) string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", errors.Wrap(ErrMalformedEvent, "missing data")
	}

	var id string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", errors.Wrap(ErrMalformedEvent, err.Error())
		}
	} else {
		var p idPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return "", errors.Wrap(ErrMalformedEvent, err.Error())
		}
		id = pick(p)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Wrap(ErrMalformedEvent, "missing id")
	}
	return id, nil
}

func pickUser(p idPayload) string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.LegacyID
}

func pickChat(p idPayload) string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.LegacyID
}

// DecodeEvent parses one inbound frame into its typed event.
func DecodeEvent(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	switch f.Event {
	case EventSetup:
		id, err := decodeID(f.Data, pickUser)
		if err != nil {
			return nil, err
		}
		return SetupEvent{UserID: id}, nil
	case EventJoinChat:
		id, err := decodeID(f.Data, pickChat)
		if err != nil {
			return nil, err
		}
		return JoinChatEvent{ChatID: id}, nil
	case EventLeaveChat:
		id, err := decodeID(f.Data, pickChat)
		if err != nil {
			return nil, err
		}
		return LeaveChatEvent{ChatID: id}, nil
	case EventTyping, EventStopTyping:
		id, err := decodeID(f.Data, pickChat)
		if err != nil {
			return nil, err
		}
		return TypingEvent{ChatID: id, Stop: f.Event == EventStopTyping}, nil
	case "":
		return nil, errors.Wrap(ErrMalformedEvent, "missing event name")
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", f.Event)
	}
}

// EncodeFrame builds the wire form of an outbound event. A nil payload
// produces a frame without data.
func EncodeFrame(name EventName, payload any) ([]byte, error) {
	f := Frame{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", name)
		}
		f.Data = data
	}
	return json.Marshal(f)
}
