package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticCreds struct{ err error }

func (c staticCreds) Identity() (auth.Identity, error) {
	return auth.Identity{UserID: "u1", Phone: "+100"}, c.err
}

// mockChannel is a testify mock of transport.Channel.
type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockChannel) Connected() bool                   { return m.Called().Bool(0) }
func (m *mockChannel) Subscribe(scope, action string, h transport.Handler) func() {
	return func() {}
}
func (m *mockChannel) Send(ctx context.Context, req transport.Request) error {
	return m.Called(ctx, req).Error(0)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queueFailed(t *testing.T, db *store.DB, id, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.QueueOutbox(ctx, &store.OutboxEntry{
		ClientMsgID: id,
		RoomID:      "r1",
		RecipientID: "u2",
		Content:     content,
		Type:        store.TypeText,
		CreatedAt:   "2024-06-10T12:00:00.000Z",
	}))
	require.NoError(t, db.MarkOutboxFailed(ctx, id, "not connected"))
}

func TestRetryFailedResends(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	queueFailed(t, db, "c1", "one")
	queueFailed(t, db, "c2", "two")

	ch := transport.NewMemory()
	require.NoError(t, ch.Connect(ctx))
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindOutboxRetried, 10)
	defer unsub()

	s := NewSender(db, ch, staticCreds{}, b, zap.NewNop(), Config{})
	n, err := s.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := ch.Sent(transport.ActionSendMessage)
	require.Len(t, sent, 2)
	out := sent[0].Data.(transport.OutgoingMessage)
	assert.Equal(t, "c1", out.ClientMsgID)
	assert.Equal(t, "u1", out.SenderID)
	assert.Equal(t, "2024-06-10T12:00:00.000Z", out.CreatedAt)

	entry, err := db.GetOutbox(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "sent", entry.Status)
	assert.Equal(t, 2, entry.Attempts)

	for i := 0; i < 2; i++ {
		evt := <-events
		assert.NoError(t, evt.Payload.(Retry).Err)
	}

	n, err = s.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryFailedStopsAtMaxAttempts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	queueFailed(t, db, "c1", "one")

	ch := transport.NewMemory()
	require.NoError(t, ch.Connect(ctx))
	ch.FailSends(errors.New("write: broken pipe"))

	s := NewSender(db, ch, staticCreds{}, nil, zap.NewNop(), Config{MaxAttempts: 3})
	for i := 0; i < 4; i++ {
		_, err := s.RetryFailed(ctx)
		require.NoError(t, err)
	}

	entry, err := db.GetOutbox(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "failed", entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, "write: broken pipe", entry.ErrorMessage)
}

func TestRetryFailedSkipsWhenDisconnected(t *testing.T) {
	db := testDB(t)
	queueFailed(t, db, "c1", "one")

	ch := &mockChannel{}
	ch.On("Connected").Return(false)

	s := NewSender(db, ch, staticCreds{}, nil, zap.NewNop(), Config{})
	n, err := s.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	ch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRetryFailedSkipsWhenSignedOut(t *testing.T) {
	db := testDB(t)
	queueFailed(t, db, "c1", "one")

	ch := &mockChannel{}
	ch.On("Connected").Return(true)

	s := NewSender(db, ch, staticCreds{err: auth.ErrNoCredential}, nil, zap.NewNop(), Config{})
	n, err := s.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	ch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSenderLoop(t *testing.T) {
	db := testDB(t)
	queueFailed(t, db, "c1", "one")

	ch := &mockChannel{}
	ch.On("Connected").Return(true)
	ch.On("Send", mock.Anything, mock.MatchedBy(func(r transport.Request) bool {
		return r.Action == transport.ActionSendMessage
	})).Return(nil)

	s := NewSender(db, ch, staticCreds{}, nil, zap.NewNop(), Config{Interval: 10 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		e, err := db.GetOutbox(context.Background(), "c1")
		return err == nil && e != nil && e.Status == "sent"
	}, 2*time.Second, 10*time.Millisecond)
}
