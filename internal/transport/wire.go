package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// TimeLayout is the ISO-8601 layout used for timestamps on the wire.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t as a UTC wire timestamp with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a wire timestamp into UTC, truncated to milliseconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// ID is an identifier that the backend may send as a JSON number or string.
// Locally it is always a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes decimal ids as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if isDecimal(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isDecimal(s string) bool {
	if s == "" || len(s) > 18 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// WireMessage is the backend's JSON representation of a message.
type WireMessage struct {
	ID          ID     `json:"id"`
	RoomID      ID     `json:"roomId"`
	SenderID    ID     `json:"senderId"`
	RecipientID ID     `json:"recipientId,omitempty"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	CreatedAt   string `json:"createdAt"`
	Read        bool   `json:"read"`
	Received    bool   `json:"received"`
	DeleteFlag  bool   `json:"deleteFlag"`
	ReplyTo     ID     `json:"replyTo,omitempty"`
	CallType    string `json:"callType,omitempty"`
}

// ErrInvalidMessage reports a wire message that cannot become a local record.
var ErrInvalidMessage = errors.New("invalid message")

// ToStore validates m and converts it to a local message.
func (m WireMessage) ToStore() (store.Message, error) {
	if m.ID == "" {
		return store.Message{}, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.RoomID == "" {
		return store.Message{}, fmt.Errorf("%w: message %s has no room", ErrInvalidMessage, m.ID)
	}
	msgType := store.MessageType(m.Type)
	if msgType == "" {
		msgType = store.TypeText
	}
	if !msgType.Valid() {
		return store.Message{}, fmt.Errorf("%w: message %s has type %q", ErrInvalidMessage, m.ID, m.Type)
	}
	callType := store.CallType(m.CallType)
	if callType != store.CallNone && callType != store.CallAudio && callType != store.CallVideo {
		return store.Message{}, fmt.Errorf("%w: message %s has call type %q", ErrInvalidMessage, m.ID, m.CallType)
	}
	createdAt, err := ParseTime(m.CreatedAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: message %s: createdAt: %v", ErrInvalidMessage, m.ID, err)
	}
	return store.Message{
		ID:          string(m.ID),
		RoomID:      string(m.RoomID),
		SenderID:    string(m.SenderID),
		RecipientID: string(m.RecipientID),
		Content:     m.Content,
		Type:        msgType,
		CreatedAt:   createdAt,
		Read:        m.Read,
		Received:    m.Received,
		Deleted:     m.DeleteFlag,
		ReplyTo:     string(m.ReplyTo),
		CallType:    callType,
	}, nil
}

// FromStore converts a local message to its wire form.
func FromStore(m store.Message) WireMessage {
	return WireMessage{
		ID:          ID(m.ID),
		RoomID:      ID(m.RoomID),
		SenderID:    ID(m.SenderID),
		RecipientID: ID(m.RecipientID),
		Content:     m.Content,
		Type:        string(m.Type),
		CreatedAt:   FormatTime(m.CreatedAt),
		Read:        m.Read,
		Received:    m.Received,
		DeleteFlag:  m.Deleted,
		ReplyTo:     ID(m.ReplyTo),
		CallType:    string(m.CallType),
	}
}
