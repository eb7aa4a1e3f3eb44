// Package transport is the live push connection between the daemon and the
// backend. Inbound frames are decoded once into a tagged Event union and
// dispatched to handlers subscribed by (scope, action); outbound requests
// are fire-and-forget, with answers arriving later as events.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/chatsync/internal/store"
)

// Scopes and actions understood by the backend.
const (
	ScopeChat = "chat"

	ActionSendMessage = "sendMessage"
	ActionGetMessages = "getMessages"
)

// ErrNotConnected is returned by Send when there is no live connection.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives decoded inbound events.
type Handler func(Event)

// Channel is the live connection contract the sync engine consumes.
type Channel interface {
	// Connect establishes the connection. It is a no-op when connected.
	Connect(ctx context.Context) error
	Connected() bool
	// Subscribe registers h for events matching scope and action and
	// returns a function that removes the registration.
	Subscribe(scope, action string, h Handler) (unsubscribe func())
	// Send issues a request. It returns once the request is handed to the
	// connection; responses arrive through Subscribe.
	Send(ctx context.Context, req Request) error
}

// Request is an outbound action.
type Request struct {
	Scope  string
	Action string
	Data   any
}

// FetchRequest asks for one UTC day of a room's messages.
type FetchRequest struct {
	RoomID string `json:"roomId"`
	Date   string `json:"date"`
}

// FetchMessages builds the request for a room's messages on date (YYYY-MM-DD).
func FetchMessages(roomID, date string) Request {
	return Request{Scope: ScopeChat, Action: ActionGetMessages, Data: FetchRequest{RoomID: roomID, Date: date}}
}

// OutgoingMessage is the payload of a send request. The backend assigns the
// message id and echoes the stored message back as a push.
type OutgoingMessage struct {
	ClientMsgID string            `json:"clientMsgId"`
	RoomID      string            `json:"roomId"`
	SenderID    string            `json:"senderId,omitempty"`
	RecipientID string            `json:"recipientId,omitempty"`
	Content     string            `json:"content"`
	Type        store.MessageType `json:"type"`
	MediaRef    string            `json:"mediaRef,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// SendMessage builds the request that dispatches an outgoing message.
func SendMessage(m OutgoingMessage) Request {
	return Request{Scope: ScopeChat, Action: ActionSendMessage, Data: m}
}

type subscriber struct {
	id     int
	scope  string
	action string
	h      Handler
}

// registry keeps handlers in registration order.
type registry struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

func (r *registry) Subscribe(scope, action string, h Handler) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs = append(r.subs, subscriber{id: id, scope: scope, action: action, h: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

func (r *registry) dispatch(ev Event) {
	r.mu.RLock()
	var hs []Handler
	for _, s := range r.subs {
		if s.scope == ev.Scope() && s.action == ev.Action() {
			hs = append(hs, s.h)
		}
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
