package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoServer answers every getMessages request with one message for the
// requested room and date, and records the Authorization header it saw.
func echoServer(t *testing.T, auth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := ParseFrame(data)
			if err != nil || f.Action != ActionGetMessages {
				continue
			}
			reply := `{"scope":"chat","action":"getMessages","data":{"messages":[{"id":1,"roomId":"r1","content":"old","createdAt":"2024-06-09T10:00:00Z"}]}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	b := bus.New()
	events, unsub := b.Subscribe("transport.", 4)
	defer unsub()

	c := NewClient(url, func() (string, error) { return "tok", nil }, b, zap.NewNop())
	got := make(chan MessagesFetched, 1)
	c.Subscribe(ScopeChat, ActionGetMessages, func(ev Event) {
		got <- ev.(MessagesFetched)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.Connected())
	assert.Equal(t, "Bearer tok", <-auth)
	assert.Equal(t, bus.KindTransportConnected, (<-events).Kind)

	require.NoError(t, c.Send(ctx, FetchMessages("r1", "2024-06-09")))
	select {
	case f := <-got:
		require.Len(t, f.Messages, 1)
		assert.Equal(t, "old", f.Messages[0].Content)
	case <-ctx.Done():
		t.Fatal("no fetch response")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.Equal(t, bus.KindTransportDisconnected, (<-events).Kind)
	assert.ErrorIs(t, c.Send(ctx, FetchMessages("r1", "2024-06-09")), ErrNotConnected)
}

func TestClientConnectFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", func() (string, error) { return "tok", nil }, nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, c.Connect(ctx))
	assert.False(t, c.Connected())
}
