package store

import "time"

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

// CallType marks a message as a call record. Empty means not a call.
type CallType string

const (
	CallNone  CallType = ""
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// RoomType is the kind of conversation container.
type RoomType string

const (
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
	RoomChannel RoomType = "channel"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomPrivate || t == RoomGroup || t == RoomChannel
}

// Message is a single message in a chat room.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	RecipientID string
	Content     string
	Type        MessageType
	CreatedAt   time.Time
	Read        bool
	Received    bool
	Deleted     bool
	ReplyTo     string // id of the replied-to message, empty if none
	CallType    CallType
}

// Date returns the UTC calendar day of the message, formatted YYYY-MM-DD.
func (m *Message) Date() string {
	return m.CreatedAt.UTC().Format(time.DateOnly)
}

// Participant is a member of a chat room.
type Participant struct {
	ID    string
	Phone string
}

// ChatRoom is a conversation container.
type ChatRoom struct {
	RoomID       string
	Type         RoomType
	Participants []Participant
	CreatedAt    time.Time
}

// Counterpart returns the first participant that is not the local user.
// ok is false when the local user is the only participant.
func (r *ChatRoom) Counterpart(selfID, selfPhone string) (Participant, bool) {
	for _, p := range r.Participants {
		if selfID != "" && p.ID == selfID {
			continue
		}
		if selfPhone != "" && p.Phone == selfPhone {
			continue
		}
		return p, true
	}
	return Participant{}, false
}

// Contact is a known correspondent. RoomID stays empty until a room
// with the contact exists.
type Contact struct {
	Phone   string
	Name    string
	Profile string
	RoomID  string
}

// CommunityType distinguishes channels from groups.
type CommunityType string

const (
	CommunityChannel CommunityType = "channel"
	CommunityGroup   CommunityType = "group"
)

// Visibility controls who can discover a community.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Community is a multi-party room variant with discovery metadata.
type Community struct {
	ID          string
	Name        string
	Description string
	Visibility  Visibility
	Type        CommunityType
	CreatedAt   time.Time
}

// OutboxEntry is an outgoing message recorded before dispatch.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	RoomID       string
	RecipientID  string
	Content      string
	Type         MessageType
	MediaRef     string
	CreatedAt    string // client timestamp sent on the wire
	Status       string // queued, sent, failed
	Attempts     int
	ErrorMessage string
}

// Counts holds row counts for status reporting.
type Counts struct {
	Contacts    int64
	ChatRooms   int64
	Messages    int64
	Communities int64
}
