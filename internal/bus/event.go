package bus

import "time"

// Event kinds published by the daemon components. Subscribers filter by
// namespace prefix ("room.", "transport.", "session.", "outbox.").
const (
	KindRoomStateChanged = "room.state_changed"
	KindRoomViewChanged  = "room.view_changed"
	KindRoomNotice       = "room.notice"

	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"

	KindSessionStatusChanged = "session.status_changed"
	KindSessionLoggedOut     = "session.logged_out"

	KindDirectorySynced = "directory.synced"

	KindOutboxRetried = "outbox.retried"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
