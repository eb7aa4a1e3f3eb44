package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Empty is the request or response of calls that carry no fields.
type Empty struct{}

type StatusResponse struct {
	Session       string   `json:"session"`
	Status        string   `json:"status"`
	StatusSince   string   `json:"statusSince"`
	StartedAt     string   `json:"startedAt"`
	UptimeMs      int64    `json:"uptimeMs"`
	Authenticated bool     `json:"authenticated"`
	Connected     bool     `json:"connected"`
	UserID        string   `json:"userId,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	OpenRooms     []string `json:"openRooms"`
	Contacts      int64    `json:"contacts"`
	ChatRooms     int64    `json:"chatRooms"`
	Messages      int64    `json:"messages"`
	Communities   int64    `json:"communities"`
}

type LoginRequest struct {
	Token string `json:"token"`
}

type LoginResponse struct {
	UserID    string `json:"userId,omitempty"`
	Phone     string `json:"phone,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
}

// RoomRequest names a room by id, or by the phone of a contact.
type RoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Message is a message as shown to clients. Ids are always strings here.
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	CreatedAt   string `json:"createdAt"`
	Read        bool   `json:"read,omitempty"`
	Received    bool   `json:"received,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
	CallType    string `json:"callType,omitempty"`
}

type RoomView struct {
	RoomID   string    `json:"roomId"`
	State    string    `json:"state"`
	Oldest   string    `json:"oldest,omitempty"`
	Messages []Message `json:"messages"`
}

type OlderResponse struct {
	Requested bool   `json:"requested"`
	State     string `json:"state"`
	Oldest    string `json:"oldest"`
}

type SendRequest struct {
	RoomID   string `json:"roomId"`
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
	MediaRef string `json:"mediaRef,omitempty"`
}

type SendResponse struct {
	ClientMsgID string `json:"clientMsgId"`
}

type RetryResponse struct {
	Retried int `json:"retried"`
}

type SyncResponse struct {
	Contacts    int `json:"contacts"`
	ChatRooms   int `json:"chatRooms"`
	Communities int `json:"communities"`
	Linked      int `json:"linked"`
}

type ContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

type Contact struct {
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Profile string `json:"profile,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type SearchRequest struct {
	Keyword string `json:"keyword"`
}

type CommunitiesResponse struct {
	Communities []directory.CommunityDTO `json:"communities"`
}

// WatchRequest filters the event stream. Empty RoomID means every room.
type WatchRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

// Event is one bus event as streamed by RoomService.Watch.
type Event struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	At     string `json:"at"`
	RoomID string `json:"roomId,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Size   int    `json:"size,omitempty"`
	Added  int    `json:"added,omitempty"`
	Error  string `json:"error,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return transport.FormatTime(t)
}

func messageFromStore(m store.Message) Message {
	return Message{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Type:        string(m.Type),
		CreatedAt:   formatTime(m.CreatedAt),
		Read:        m.Read,
		Received:    m.Received,
		Deleted:     m.Deleted,
		ReplyTo:     m.ReplyTo,
		CallType:    string(m.CallType),
	}
}

func roomView(r *chatsync.Room) *RoomView {
	view := r.View()
	msgs := make([]Message, len(view))
	for i, m := range view {
		msgs[i] = messageFromStore(m)
	}
	return &RoomView{
		RoomID:   r.ID(),
		State:    string(r.State()),
		Oldest:   r.OldestRequested(),
		Messages: msgs,
	}
}

// eventFromBus flattens the known payloads. Unknown payloads keep only the
// kind and time.
func eventFromBus(id string, evt bus.Event) Event {
	out := Event{ID: id, Kind: evt.Kind, At: formatTime(evt.Timestamp)}
	switch p := evt.Payload.(type) {
	case chatsync.StateChange:
		out.RoomID, out.From, out.To = p.RoomID, string(p.From), string(p.To)
	case chatsync.ViewChange:
		out.RoomID, out.Size, out.Added = p.RoomID, p.Size, p.Added
	case chatsync.Notice:
		out.RoomID = p.RoomID
		if p.Err != nil {
			out.Error = p.Err.Error()
		}
	case status.StatusChange:
		out.From, out.To = string(p.From), string(p.To)
	case outbox.Retry:
		out.RoomID = p.RoomID
		if p.Err != nil {
			out.Error = p.Err.Error()
		}
	case directory.Result:
		out.Added = p.Contacts + p.ChatRooms + p.Communities
	}
	return out
}
