package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/store"
)

// Event is a decoded inbound frame. It is one of MessagePushed or
// MessagesFetched.
type Event interface {
	Scope() string
	Action() string
}

// MessagePushed carries a single message pushed by the backend, either a
// new incoming message or the echo of one this client sent.
type MessagePushed struct {
	Message store.Message
}

func (MessagePushed) Scope() string  { return ScopeChat }
func (MessagePushed) Action() string { return ActionSendMessage }

// MessagesFetched answers a FetchMessages request. RoomID and Date echo
// the request when the backend includes them. Dropped counts entries that
// failed validation and were left out of Messages.
type MessagesFetched struct {
	RoomID   string
	Date     string
	Messages []store.Message
	Dropped  int
}

func (MessagesFetched) Scope() string  { return ScopeChat }
func (MessagesFetched) Action() string { return ActionGetMessages }

// ErrUnknownAction is returned by Decode for frames no event type models.
var ErrUnknownAction = errors.New("unknown action")

// Frame is the envelope of every message on the connection. Data holds an
// object, or that object encoded as a JSON string.
type Frame struct {
	Scope  string          `json:"scope,omitempty"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type fetchPayload struct {
	RoomID   ID            `json:"roomId"`
	Date     string        `json:"date"`
	Messages []WireMessage `json:"messages"`
}

// payload returns the frame's data with any string encoding removed. When a
// frame carries no data field its fields sit beside the action, and the
// whole frame is the payload.
func (f Frame) payload(raw []byte) ([]byte, error) {
	data := f.Data
	if len(data) == 0 || string(data) == "null" {
		data = raw
	}
	return unquote(data)
}

// Decode parses a raw frame into its Event.
func Decode(raw []byte) (Event, error) {
	raw, err := unquote(raw)
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Scope != "" && f.Scope != ScopeChat {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, f.Scope, f.Action)
	}
	data, err := f.payload(raw)
	if err != nil {
		return nil, err
	}

	switch f.Action {
	case ActionSendMessage:
		var wm WireMessage
		if err := json.Unmarshal(data, &wm); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Action, err)
		}
		m, err := wm.ToStore()
		if err != nil {
			return nil, err
		}
		return MessagePushed{Message: m}, nil

	case ActionGetMessages:
		var p fetchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Action, err)
		}
		ev := MessagesFetched{RoomID: string(p.RoomID), Date: p.Date}
		for _, wm := range p.Messages {
			m, err := wm.ToStore()
			if err != nil {
				ev.Dropped++
				continue
			}
			ev.Messages = append(ev.Messages, m)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, f.Action)
}

// Encode renders an outbound request as a frame.
func Encode(req Request) ([]byte, error) {
	f := Frame{Scope: req.Scope, Action: req.Action}
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", req.Action, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// EncodeEvent renders ev as the frame a backend would push.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case MessagePushed:
		return Encode(Request{Scope: ScopeChat, Action: ActionSendMessage, Data: FromStore(e.Message)})
	case MessagesFetched:
		p := fetchPayload{RoomID: ID(e.RoomID), Date: e.Date, Messages: make([]WireMessage, 0, len(e.Messages))}
		for _, m := range e.Messages {
			p.Messages = append(p.Messages, FromStore(m))
		}
		return Encode(Request{Scope: ScopeChat, Action: ActionGetMessages, Data: p})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownAction, ev)
}

// ParseFrame decodes a raw frame without interpreting its action. Data is
// returned with any string encoding removed.
func ParseFrame(raw []byte) (Frame, error) {
	raw, err := unquote(raw)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	data, err := f.payload(raw)
	if err != nil {
		return Frame{}, err
	}
	f.Data = data
	return f, nil
}

func unquote(b []byte) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode string payload: %w", err)
	}
	return bytes.TrimSpace([]byte(s)), nil
}
