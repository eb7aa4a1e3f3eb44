package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const inboxSize = 256

// Room is an open conversation. A single goroutine owns the view and
// applies commands and inbound events one at a time, in arrival order.
type Room struct {
	id     string
	engine *Engine
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}

	mu     sync.RWMutex
	state  RoomState
	view   []store.Message
	oldest string

	// Owned by the actor goroutine.
	unsubs      []func()
	inflight    []string // dates of unanswered fetches, in send order
	pendingDate string
	fetchSeq    int
	fetchTimer  *time.Timer
}

func newRoom(e *Engine, id string) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:     id,
		engine: e,
		logger: e.logger.With(zap.String("room", id)),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
		state:  StateUninitialized,
	}
	go r.run()
	return r
}

func (r *Room) run() {
	defer close(r.done)
	for fn := range r.inbox {
		fn()
		if r.State() == StateClosed {
			return
		}
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Room) State() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// View returns a copy of the ordered message list.
func (r *Room) View() []store.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Message, len(r.view))
	copy(out, r.view)
	return out
}

// OldestRequested returns the oldest day (YYYY-MM-DD) a fetch has been
// issued for.
func (r *Room) OldestRequested() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oldest
}

// Done is closed once the room has stopped processing.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// enqueue hands fn to the actor. It fails with ErrRoomClosed once the room
// has stopped.
func (r *Room) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- fn:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the actor and waits for its result.
func (r *Room) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if err := r.enqueue(ctx, func() { res <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-r.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) transition(to RoomState) error {
	r.mu.Lock()
	from := r.state
	if err := checkTransition(from, to); err != nil {
		r.mu.Unlock()
		return err
	}
	r.state = to
	r.mu.Unlock()

	r.logger.Debug("room state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	r.engine.bus.Emit(bus.KindRoomStateChanged, StateChange{RoomID: r.id, From: from, To: to})
	return nil
}

func (r *Room) notice(err error) {
	r.logger.Warn("room notice", zap.Error(err))
	r.engine.bus.Emit(bus.KindRoomNotice, Notice{RoomID: r.id, Err: err})
}

// open runs the Uninitialized, Loading and Live steps on the actor.
func (r *Room) open(ctx context.Context) error {
	return r.call(ctx, func() error {
		e := r.engine
		if !e.channel.Connected() {
			if err := e.channel.Connect(ctx); err != nil {
				r.notice(fmt.Errorf("%w: connect: %v", ErrFetchFailed, err))
			}
		}
		r.unsubs = append(r.unsubs,
			e.channel.Subscribe(transport.ScopeChat, transport.ActionSendMessage, r.onEvent),
			e.channel.Subscribe(transport.ScopeChat, transport.ActionGetMessages, r.onEvent),
		)

		if err := r.transition(StateLoading); err != nil {
			return err
		}
		cached, err := e.store.GetMessagesByRoom(ctx, r.id)
		if err != nil {
			return fmt.Errorf("%w: load cached messages: %v", ErrStorageUnavailable, err)
		}
		today := e.today()
		r.mu.Lock()
		r.view = Merge(nil, cached)
		r.oldest = today
		r.mu.Unlock()
		e.bus.Emit(bus.KindRoomViewChanged, ViewChange{RoomID: r.id, Size: len(cached), Added: len(cached)})

		if err := e.channel.Send(ctx, transport.FetchMessages(r.id, today)); err != nil {
			r.notice(fmt.Errorf("%w: initial fetch for %s: %v", ErrFetchFailed, today, err))
		} else {
			r.inflight = append(r.inflight, today)
		}
		return r.transition(StateLive)
	})
}

// onEvent is the transport handler. It runs on the transport's goroutine
// and only queues the event.
func (r *Room) onEvent(ev transport.Event) {
	if err := r.enqueue(r.ctx, func() { r.apply(ev) }); err != nil {
		r.logger.Debug("dropping event for closed room", zap.String("action", ev.Action()))
	}
}

func (r *Room) apply(ev transport.Event) {
	if r.State() == StateClosed {
		return
	}
	switch e := ev.(type) {
	case transport.MessagePushed:
		if e.Message.RoomID != r.id {
			return
		}
		r.merge([]store.Message{e.Message})

	case transport.MessagesFetched:
		if e.RoomID != "" && e.RoomID != r.id {
			return
		}
		var batch, others []store.Message
		for _, m := range e.Messages {
			switch {
			case m.RoomID == r.id:
				batch = append(batch, m)
			case r.engine.Room(m.RoomID) == nil:
				others = append(others, m)
			}
		}
		if len(batch) > 0 {
			r.merge(batch)
		}
		if len(others) > 0 {
			if err := r.engine.store.PutMessages(r.ctx, others); err != nil {
				r.notice(fmt.Errorf("%w: persist %d messages for other rooms: %v", ErrStorageUnavailable, len(others), err))
			}
		}
		date, ok := r.answered(e, len(batch))
		if ok && r.State() == StatePaginatingBack && date == r.pendingDate {
			r.finishPagination()
		}
	}
}

// answered matches a fetch response to the request it answers and returns
// that request's date. A dated response answers the request for its date.
// An undated one answers the oldest unanswered request, since the backend
// replies in request order.
func (r *Room) answered(e transport.MessagesFetched, matched int) (string, bool) {
	if e.Date != "" {
		if i := slices.Index(r.inflight, e.Date); i >= 0 {
			r.inflight = slices.Delete(r.inflight, i, i+1)
		}
		return e.Date, true
	}
	if e.RoomID != r.id && matched == 0 && len(e.Messages) > 0 {
		return "", false
	}
	if len(r.inflight) == 0 {
		return "", false
	}
	date := r.inflight[0]
	r.inflight = r.inflight[1:]
	return date, true
}

// merge persists batch, then replaces the view. When the write fails the
// view is left as it was.
func (r *Room) merge(batch []store.Message) {
	next := Merge(r.View(), batch)
	if err := r.engine.store.PutMessages(r.ctx, batch); err != nil {
		r.notice(fmt.Errorf("%w: persist %d messages: %v", ErrStorageUnavailable, len(batch), err))
		return
	}
	r.mu.Lock()
	r.view = next
	r.mu.Unlock()
	r.engine.bus.Emit(bus.KindRoomViewChanged, ViewChange{RoomID: r.id, Size: len(next), Added: len(batch)})
}

// LoadOlderMessages requests the day before the oldest requested one. It
// returns false without sending when a backfill is already outstanding.
// The marker moves only once the request has been handed to the transport.
func (r *Room) LoadOlderMessages(ctx context.Context) (bool, error) {
	var issued bool
	err := r.call(ctx, func() error {
		if r.State() != StateLive {
			return nil
		}
		date, err := previousDay(r.OldestRequested())
		if err != nil {
			return err
		}
		if err := r.transition(StatePaginatingBack); err != nil {
			return err
		}
		if err := r.engine.channel.Send(ctx, transport.FetchMessages(r.id, date)); err != nil {
			_ = r.transition(StateLive)
			return fmt.Errorf("%w: %s: %v", ErrFetchFailed, date, err)
		}

		r.mu.Lock()
		r.oldest = date
		r.mu.Unlock()
		r.inflight = append(r.inflight, date)
		r.pendingDate = date
		r.armFetchTimeout()
		issued = true
		return nil
	})
	return issued, err
}

func (r *Room) armFetchTimeout() {
	r.fetchSeq++
	seq := r.fetchSeq
	r.fetchTimer = time.AfterFunc(r.engine.fetchTimeout, func() {
		_ = r.enqueue(r.ctx, func() {
			if seq != r.fetchSeq || r.State() != StatePaginatingBack {
				return
			}
			r.notice(fmt.Errorf("%w: no response for %s within %s", ErrFetchFailed, r.pendingDate, r.engine.fetchTimeout))
			r.finishPagination()
		})
	})
}

func (r *Room) finishPagination() {
	if r.fetchTimer != nil {
		r.fetchTimer.Stop()
		r.fetchTimer = nil
	}
	r.fetchSeq++
	r.pendingDate = ""
	_ = r.transition(StateLive)
}

// SendMessage dispatches a new message and returns its client message id.
// The view is not touched: the backend echoes the stored message back as a
// push, which merges like any other.
func (r *Room) SendMessage(ctx context.Context, content string, msgType store.MessageType, mediaRef string) (string, error) {
	if msgType == "" {
		msgType = store.TypeText
	}
	if !msgType.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msgType)
	}

	var clientMsgID string
	err := r.call(ctx, func() error {
		e := r.engine
		room, err := e.store.GetChatRoom(ctx, r.id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if room == nil {
			return fmt.Errorf("%w: %s", ErrRoomNotInitialized, r.id)
		}
		self, err := e.creds.Identity()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}

		var recipient string
		if room.Type == store.RoomPrivate {
			p, ok := room.Counterpart(self.UserID, self.Phone)
			if !ok {
				return fmt.Errorf("%w: room %s has no other participant", ErrRecipientNotFound, r.id)
			}
			recipient = p.ID
			if recipient == "" {
				recipient = p.Phone
			}
		}

		entry := &store.OutboxEntry{
			ClientMsgID: uuid.NewString(),
			RoomID:      r.id,
			RecipientID: recipient,
			Content:     content,
			Type:        msgType,
			MediaRef:    mediaRef,
			CreatedAt:   transport.FormatTime(e.clock()),
		}
		queued := true
		if err := e.store.QueueOutbox(ctx, entry); err != nil {
			queued = false
			r.logger.Warn("failed to record outgoing message", zap.Error(err))
		}

		sendErr := e.channel.Send(ctx, transport.SendMessage(OutgoingFromEntry(entry, self.UserID)))
		if queued {
			var markErr error
			if sendErr != nil {
				markErr = e.store.MarkOutboxFailed(ctx, entry.ClientMsgID, sendErr.Error())
			} else {
				markErr = e.store.MarkOutboxSent(ctx, entry.ClientMsgID)
			}
			if markErr != nil {
				r.logger.Warn("failed to update outbox", zap.Error(markErr), zap.String("client_msg_id", entry.ClientMsgID))
			}
		}
		if sendErr != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
		}
		clientMsgID = entry.ClientMsgID
		return nil
	})
	return clientMsgID, err
}

// OutgoingFromEntry builds the wire payload for an outbox entry.
func OutgoingFromEntry(e *store.OutboxEntry, senderID string) transport.OutgoingMessage {
	return transport.OutgoingMessage{
		ClientMsgID: e.ClientMsgID,
		RoomID:      e.RoomID,
		SenderID:    senderID,
		RecipientID: e.RecipientID,
		Content:     e.Content,
		Type:        e.Type,
		MediaRef:    e.MediaRef,
		CreatedAt:   e.CreatedAt,
	}
}

// close unsubscribes and moves the room to Closed. Events already queued
// behind the close are never applied.
func (r *Room) close(ctx context.Context) error {
	err := r.call(ctx, func() error {
		for _, unsub := range r.unsubs {
			unsub()
		}
		r.unsubs = nil
		r.inflight = nil
		if r.fetchTimer != nil {
			r.fetchTimer.Stop()
			r.fetchTimer = nil
		}
		return r.transition(StateClosed)
	})
	if errors.Is(err, ErrRoomClosed) {
		err = nil
	}
	r.cancel()
	return err
}

func previousDay(date string) (string, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("oldest requested date %q: %w", date, err)
	}
	return t.AddDate(0, 0, -1).Format(time.DateOnly), nil
}
