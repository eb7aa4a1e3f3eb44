package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePushWithObjectData(t *testing.T) {
	raw := `{"scope":"chat","action":"sendMessage","data":{"id":42,"roomId":7,"senderId":"u1","content":"hi","type":"text","createdAt":"2024-06-10T08:30:00.123456Z","read":true}}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	pushed, ok := ev.(MessagePushed)
	require.True(t, ok, "got %T", ev)
	m := pushed.Message
	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "7", m.RoomID)
	assert.Equal(t, "u1", m.SenderID)
	assert.Equal(t, store.TypeText, m.Type)
	assert.True(t, m.Read)
	assert.Equal(t, time.Date(2024, 6, 10, 8, 30, 0, 123000000, time.UTC), m.CreatedAt)
}

func TestDecodePushWithStringData(t *testing.T) {
	inner := `{"id":"abc","roomId":"r1","content":"x","type":"image","createdAt":"2024-06-10T10:00:00.000+02:00"}`
	quoted, err := json.Marshal(inner)
	require.NoError(t, err)
	raw := `{"scope":"chat","action":"sendMessage","data":` + string(quoted) + `}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	m := ev.(MessagePushed).Message
	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, store.TypeImage, m.Type)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
	assert.Equal(t, 8, m.CreatedAt.Hour())
}

func TestDecodeFlatFrame(t *testing.T) {
	raw := `{"action":"sendMessage","id":1,"roomId":"r1","content":"flat","createdAt":"2024-06-10T00:00:00Z"}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	m := ev.(MessagePushed).Message
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, "flat", m.Content)
	assert.Equal(t, store.TypeText, m.Type)
}

func TestDecodeFetchDropsInvalidEntries(t *testing.T) {
	raw := `{"scope":"chat","action":"getMessages","data":{"roomId":"r1","date":"2024-06-09","messages":[
		{"id":1,"roomId":"r1","createdAt":"2024-06-09T10:00:00Z"},
		{"id":2,"roomId":"r1","createdAt":"not a date"},
		{"id":3,"roomId":"r1","type":"sticker","createdAt":"2024-06-09T11:00:00Z"},
		{"roomId":"r1","createdAt":"2024-06-09T12:00:00Z"}
	]}}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	f, ok := ev.(MessagesFetched)
	require.True(t, ok)
	assert.Equal(t, "r1", f.RoomID)
	assert.Equal(t, "2024-06-09", f.Date)
	require.Len(t, f.Messages, 1)
	assert.Equal(t, "1", f.Messages[0].ID)
	assert.Equal(t, 3, f.Dropped)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"unknown action":  `{"scope":"chat","action":"typing","data":{}}`,
		"unknown scope":   `{"scope":"presence","action":"sendMessage","data":{}}`,
		"invalid message": `{"action":"sendMessage","data":{"id":1,"roomId":"r","createdAt":"yesterday"}}`,
		"missing room":    `{"action":"sendMessage","data":{"id":1,"createdAt":"2024-06-09T12:00:00Z"}}`,
		"bad call type":   `{"action":"sendMessage","data":{"id":1,"roomId":"r","callType":"fax","createdAt":"2024-06-09T12:00:00Z"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodeEventRoundTrip(t *testing.T) {
	m := store.Message{
		ID:        "12",
		RoomID:    "r1",
		SenderID:  "u2",
		Content:   "hello",
		Type:      store.TypeAudio,
		CreatedAt: time.Date(2024, 6, 10, 9, 0, 0, 5000000, time.UTC),
		CallType:  store.CallVideo,
		Deleted:   true,
	}

	raw, err := EncodeEvent(MessagesFetched{RoomID: "r1", Date: "2024-06-10", Messages: []store.Message{m}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":12`)

	ev, err := Decode(raw)
	require.NoError(t, err)
	f := ev.(MessagesFetched)
	require.Len(t, f.Messages, 1)
	assert.Equal(t, m, f.Messages[0])
}

func TestEncodeRequest(t *testing.T) {
	raw, err := Encode(FetchMessages("r1", "2024-06-09"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"scope":"chat","action":"getMessages","data":{"roomId":"r1","date":"2024-06-09"}}`, string(raw))

	f, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionGetMessages, f.Action)
	var req FetchRequest
	require.NoError(t, json.Unmarshal(f.Data, &req))
	assert.Equal(t, FetchRequest{RoomID: "r1", Date: "2024-06-09"}, req)
}

func TestIDMarshal(t *testing.T) {
	b, err := json.Marshal(ID("123"))
	require.NoError(t, err)
	assert.Equal(t, `123`, string(b))

	b, err = json.Marshal(ID("a-1"))
	require.NoError(t, err)
	assert.Equal(t, `"a-1"`, string(b))
}
