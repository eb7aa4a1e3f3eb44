// Package sync keeps an ordered, deduplicated message view per open room,
// backed by the local store and fed by the live transport.
package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// DefaultFetchTimeout bounds how long a backfill may stay outstanding.
const DefaultFetchTimeout = 15 * time.Second

// Store is the subset of the local store the engine uses.
type Store interface {
	Init(ctx context.Context) error
	GetChatRoom(ctx context.Context, roomID string) (*store.ChatRoom, error)
	GetMessagesByRoom(ctx context.Context, roomID string) ([]store.Message, error)
	PutMessages(ctx context.Context, msgs []store.Message) error
	QueueOutbox(ctx context.Context, e *store.OutboxEntry) error
	MarkOutboxSent(ctx context.Context, clientMsgID string) error
	MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error
}

// Credentials reports the signed-in identity.
type Credentials interface {
	Present() bool
	Identity() (auth.Identity, error)
}

// RoomResolver finds or creates the private room with a contact.
type RoomResolver interface {
	EnsureRoom(ctx context.Context, selfPhone, phone string) (*store.ChatRoom, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithFetchTimeout sets how long a backfill request may go unanswered
// before the room returns to LIVE.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithResolver enables OpenContact.
func WithResolver(r RoomResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// Engine opens rooms and persists pushes for rooms that are not open.
type Engine struct {
	store    Store
	channel  transport.Channel
	creds    Credentials
	resolver RoomResolver
	bus      *bus.Bus
	logger   *zap.Logger

	clock        func() time.Time
	fetchTimeout time.Duration

	openMu sync.Mutex
	mu     sync.RWMutex
	rooms  map[string]*Room
	unsub  func()
}

// NewEngine creates an engine. Nothing is opened or subscribed until
// Start or OpenRoom.
func NewEngine(st Store, ch transport.Channel, creds Credentials, b *bus.Bus, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:        st,
		channel:      ch,
		creds:        creds,
		bus:          b,
		logger:       logger,
		clock:        time.Now,
		fetchTimeout: DefaultFetchTimeout,
		rooms:        make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) today() string {
	return e.clock().UTC().Format(time.DateOnly)
}

// Start subscribes to pushes so that messages for rooms that are not open
// are still stored.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil {
		return
	}
	e.unsub = e.channel.Subscribe(transport.ScopeChat, transport.ActionSendMessage, func(ev transport.Event) {
		pushed, ok := ev.(transport.MessagePushed)
		if !ok || e.Room(pushed.Message.RoomID) != nil {
			return
		}
		if err := e.store.PutMessages(ctx, []store.Message{pushed.Message}); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err),
				zap.String("room", pushed.Message.RoomID),
				zap.String("msg_id", pushed.Message.ID),
			)
		}
	})
}

// Stop closes every open room and drops the background subscription.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	rooms := e.rooms
	e.rooms = make(map[string]*Room)
	e.mu.Unlock()

	for _, r := range rooms {
		if err := r.close(ctx); err != nil {
			e.logger.Warn("failed to close room", zap.Error(err), zap.String("room", r.id))
		}
	}
}

// OpenRoom opens roomID, or returns it when already open.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) (*Room, error) {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	if r := e.Room(roomID); r != nil {
		return r, nil
	}
	if err := e.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !e.creds.Present() {
		return nil, ErrUnauthenticated
	}

	r := newRoom(e, roomID)
	if err := r.open(ctx); err != nil {
		_ = r.close(context.Background())
		return nil, err
	}

	e.mu.Lock()
	e.rooms[roomID] = r
	e.mu.Unlock()
	e.logger.Info("room opened", zap.String("room", roomID), zap.Int("cached", len(r.View())))
	return r, nil
}

// OpenContact opens the private room with the contact at phone, creating
// it on the backend when none exists.
func (e *Engine) OpenContact(ctx context.Context, phone string) (*Room, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("%w: no directory configured", ErrRoomNotInitialized)
	}
	self, err := e.creds.Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	room, err := e.resolver.EnsureRoom(ctx, self.Phone, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve room with %s: %v", ErrRoomNotInitialized, phone, err)
	}
	return e.OpenRoom(ctx, room.RoomID)
}

// CloseRoom closes an open room. Closing a room that is not open is a no-op.
func (e *Engine) CloseRoom(ctx context.Context, roomID string) error {
	e.mu.Lock()
	r := e.rooms[roomID]
	delete(e.rooms, roomID)
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	err := r.close(ctx)
	e.logger.Info("room closed", zap.String("room", roomID))
	return err
}

// Room returns the open room with roomID, or nil.
func (e *Engine) Room(roomID string) *Room {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rooms[roomID]
}

// OpenRooms returns the ids of open rooms, sorted.
func (e *Engine) OpenRooms() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
