package sync

import "errors"

// Error kinds surfaced by the engine. Store and transport failures are
// wrapped behind one of these with their text only.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRoomNotInitialized = errors.New("room not initialized")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrFetchFailed        = errors.New("fetch failed")
	ErrSendFailed         = errors.New("send failed")
	ErrRoomClosed         = errors.New("room closed")
	ErrInvalidMessage     = errors.New("invalid message")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrStorageUnavailable, "storage_unavailable"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrRoomNotInitialized, "room_not_initialized"},
	{ErrRecipientNotFound, "recipient_not_found"},
	{ErrFetchFailed, "fetch_failed"},
	{ErrSendFailed, "send_failed"},
	{ErrRoomClosed, "room_closed"},
	{ErrInvalidMessage, "invalid_message"},
}

// Kind returns the short name of the error kind err wraps, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
