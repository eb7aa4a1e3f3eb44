package sync

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// flakyStore wraps a real store with injectable failures.
type flakyStore struct {
	*store.DB
	initErr error
	putErr  error
}

func (s *flakyStore) Init(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.DB.Init(ctx)
}

func (s *flakyStore) PutMessages(ctx context.Context, msgs []store.Message) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.DB.PutMessages(ctx, msgs)
}

type fakeCreds struct {
	id  auth.Identity
	err error
}

func (c fakeCreds) Present() bool                    { return c.err == nil }
func (c fakeCreds) Identity() (auth.Identity, error) { return c.id, c.err }

type fakeResolver struct {
	room      *store.ChatRoom
	selfPhone string
	phone     string
}

func (r *fakeResolver) EnsureRoom(ctx context.Context, selfPhone, phone string) (*store.ChatRoom, error) {
	r.selfPhone, r.phone = selfPhone, phone
	return r.room, nil
}

type harness struct {
	engine *Engine
	db     *store.DB
	store  *flakyStore
	ch     *transport.Memory
	bus    *bus.Bus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	db := testDB(t)
	h := &harness{db: db, store: &flakyStore{DB: db}, ch: transport.NewMemory(), bus: bus.New()}
	creds := fakeCreds{id: auth.Identity{UserID: "u1", Phone: "+100"}}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	h.engine = NewEngine(h.store, h.ch, creds, h.bus, zap.NewNop(), opts...)
	t.Cleanup(func() { h.engine.Stop(context.Background()) })
	return h
}

func (h *harness) open(t *testing.T, roomID string) *Room {
	t.Helper()
	r, err := h.engine.OpenRoom(context.Background(), roomID)
	if err != nil {
		t.Fatalf("OpenRoom(%s): %v", roomID, err)
	}
	return r
}

func (h *harness) fetchDates() []string {
	var dates []string
	for _, req := range h.ch.Sent(transport.ActionGetMessages) {
		dates = append(dates, req.Data.(transport.FetchRequest).Date)
	}
	return dates
}

// flush waits until everything queued to r before the call has been applied.
func flush(t *testing.T, r *Room) {
	t.Helper()
	if err := r.call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan bus.Event, match func(bus.Event) bool) bus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestOpenRoomLoadsCacheAndRequestsToday(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.db.PutMessages(ctx, []store.Message{msg("2", "10:00", "b"), msg("1", "09:00", "a")}); err != nil {
		t.Fatal(err)
	}

	states, unsub := h.bus.Subscribe("room.state_changed", 10)
	defer unsub()

	r := h.open(t, "r1")

	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("view = %v, want [1 2]", got)
	}
	if r.State() != StateLive {
		t.Errorf("state = %s, want LIVE", r.State())
	}
	if r.OldestRequested() != "2024-06-10" {
		t.Errorf("oldest = %s, want 2024-06-10", r.OldestRequested())
	}
	if got := h.fetchDates(); !reflect.DeepEqual(got, []string{"2024-06-10"}) {
		t.Errorf("fetches = %v", got)
	}

	var seen []RoomState
	for len(seen) < 2 {
		evt := waitFor(t, states, func(bus.Event) bool { return true })
		seen = append(seen, evt.Payload.(StateChange).To)
	}
	if !reflect.DeepEqual(seen, []RoomState{StateLoading, StateLive}) {
		t.Errorf("transitions = %v", seen)
	}

	again := h.open(t, "r1")
	if again != r {
		t.Error("reopening returned a different room")
	}
	if len(h.fetchDates()) != 1 {
		t.Error("reopening issued another fetch")
	}
}

func TestOpenRoomFailures(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		db := testDB(t)
		e := NewEngine(db, transport.NewMemory(), fakeCreds{err: auth.ErrNoCredential}, nil, nil)
		_, err := e.OpenRoom(context.Background(), "r1")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("err = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("storage unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.store.initErr = store.ErrUnavailable
		_, err := h.engine.OpenRoom(context.Background(), "r1")
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("err = %v, want ErrStorageUnavailable", err)
		}
		if len(h.engine.OpenRooms()) != 0 {
			t.Error("failed open left a room registered")
		}
	})
}

func TestOpenRoomOffline(t *testing.T) {
	h := newHarness(t)
	h.ch.FailConnect(errors.New("connection refused"))
	notices, unsub := h.bus.Subscribe(bus.KindRoomNotice, 10)
	defer unsub()

	r := h.open(t, "r1")

	if r.State() != StateLive {
		t.Errorf("state = %s, want LIVE", r.State())
	}
	evt := waitFor(t, notices, func(bus.Event) bool { return true })
	n := evt.Payload.(Notice)
	if n.RoomID != "r1" || !errors.Is(n.Err, ErrFetchFailed) {
		t.Errorf("notice = %+v", n)
	}
}

func TestPushMergesIntoViewAndStore(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")
	views, unsub := h.bus.Subscribe(bus.KindRoomViewChanged, 10)
	defer unsub()

	h.ch.Deliver(transport.MessagePushed{Message: msg("5", "11:00", "hello")})
	other := msg("6", "11:00", "elsewhere")
	other.RoomID = "r2"
	h.ch.Deliver(transport.MessagePushed{Message: other})
	flush(t, r)

	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"5"}) {
		t.Errorf("view = %v, want [5]", got)
	}
	stored, err := h.db.GetMessagesByRoom(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Content != "hello" {
		t.Errorf("stored = %v", stored)
	}
	evt := waitFor(t, views, func(e bus.Event) bool { return e.Payload.(ViewChange).Added == 1 })
	if evt.Payload.(ViewChange).Size != 1 {
		t.Errorf("view change = %+v", evt.Payload)
	}
}

func TestEventsApplyInReceiveOrder(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")

	h.ch.Deliver(transport.MessagePushed{Message: msg("1", "10:00", "first")})
	h.ch.Deliver(transport.MessagesFetched{Messages: []store.Message{msg("1", "10:00", "second"), msg("2", "08:00", "x")}})
	h.ch.Deliver(transport.MessagePushed{Message: msg("1", "10:00", "third")})
	flush(t, r)

	view := r.View()
	if got := ids(view); !reflect.DeepEqual(got, []string{"2", "1"}) {
		t.Fatalf("view = %v", got)
	}
	if view[1].Content != "third" {
		t.Errorf("content = %q, want third", view[1].Content)
	}
}

func TestLoadOlderRequestsPreviousDay(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")

	issued, err := r.LoadOlderMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !issued {
		t.Fatal("no fetch issued")
	}
	if got := h.fetchDates(); !reflect.DeepEqual(got, []string{"2024-06-10", "2024-06-09"}) {
		t.Errorf("fetches = %v", got)
	}
	if r.OldestRequested() != "2024-06-09" {
		t.Errorf("oldest = %s, want 2024-06-09", r.OldestRequested())
	}
	if r.State() != StatePaginatingBack {
		t.Errorf("state = %s, want PAGINATING_BACK", r.State())
	}

	older := msg("1", "09:00", "yesterday")
	older.CreatedAt = older.CreatedAt.AddDate(0, 0, -1)
	h.ch.Deliver(transport.MessagesFetched{RoomID: "r1", Date: "2024-06-09", Messages: []store.Message{older}})
	flush(t, r)

	if r.State() != StateLive {
		t.Errorf("state after response = %s, want LIVE", r.State())
	}
	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("view = %v", got)
	}

	if _, err := r.LoadOlderMessages(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.OldestRequested() != "2024-06-08" {
		t.Errorf("oldest = %s, want 2024-06-08", r.OldestRequested())
	}
}

func TestLoadOlderIssuesOneFetchAtATime(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")

	var (
		wg     gosync.WaitGroup
		mu     gosync.Mutex
		issued int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.LoadOlderMessages(context.Background())
			if err != nil {
				t.Error(err)
			}
			if ok {
				mu.Lock()
				issued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if issued != 1 {
		t.Errorf("issued = %d, want 1", issued)
	}
	if got := h.fetchDates(); !reflect.DeepEqual(got, []string{"2024-06-10", "2024-06-09"}) {
		t.Errorf("fetches = %v", got)
	}
	if r.OldestRequested() != "2024-06-09" {
		t.Errorf("oldest = %s, want 2024-06-09", r.OldestRequested())
	}
}

func TestLoadOlderSendFailureKeepsMarker(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")
	h.ch.FailSends(transport.ErrNotConnected)

	issued, err := r.LoadOlderMessages(context.Background())
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	if issued {
		t.Error("issued = true on failure")
	}
	if r.OldestRequested() != "2024-06-10" {
		t.Errorf("oldest = %s, want unchanged 2024-06-10", r.OldestRequested())
	}
	if r.State() != StateLive {
		t.Errorf("state = %s, want LIVE", r.State())
	}

	h.ch.FailSends(nil)
	if _, err := r.LoadOlderMessages(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.OldestRequested() != "2024-06-09" {
		t.Errorf("retry oldest = %s, want 2024-06-09", r.OldestRequested())
	}
}

func TestLoadOlderTimeoutReturnsToLive(t *testing.T) {
	h := newHarness(t, WithFetchTimeout(20*time.Millisecond))
	r := h.open(t, "r1")
	states, unsub := h.bus.Subscribe(bus.KindRoomStateChanged, 10)
	defer unsub()

	if _, err := r.LoadOlderMessages(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, states, func(e bus.Event) bool {
		c := e.Payload.(StateChange)
		return c.From == StatePaginatingBack && c.To == StateLive
	})
	if r.OldestRequested() != "2024-06-09" {
		t.Errorf("oldest = %s, want 2024-06-09", r.OldestRequested())
	}
}

func TestFetchForOtherDayDoesNotEndPagination(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")
	if _, err := r.LoadOlderMessages(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.ch.Deliver(transport.MessagesFetched{RoomID: "r1", Date: "2024-06-10", Messages: []store.Message{msg("9", "11:00", "today")}})
	h.ch.Deliver(transport.MessagesFetched{RoomID: "r2", Date: "2024-06-09"})
	flush(t, r)

	if r.State() != StatePaginatingBack {
		t.Errorf("state = %s, want PAGINATING_BACK", r.State())
	}
	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"9"}) {
		t.Errorf("view = %v", got)
	}
}

func TestUndatedResponsesAnswerInRequestOrder(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")
	if _, err := r.LoadOlderMessages(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Late answer to the initial fetch for today.
	h.ch.Deliver(transport.MessagesFetched{Messages: []store.Message{msg("9", "11:00", "today")}})
	flush(t, r)

	if r.State() != StatePaginatingBack {
		t.Fatalf("state = %s, want PAGINATING_BACK", r.State())
	}
	issued, err := r.LoadOlderMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if issued {
		t.Error("second backfill issued while the first is outstanding")
	}
	if got := h.fetchDates(); !reflect.DeepEqual(got, []string{"2024-06-10", "2024-06-09"}) {
		t.Errorf("fetches = %v", got)
	}

	h.ch.Deliver(transport.MessagesFetched{RoomID: "r1"})
	flush(t, r)
	if r.State() != StateLive {
		t.Errorf("state after backfill answer = %s, want LIVE", r.State())
	}
}

func TestFetchStoresMessagesForOtherRooms(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")

	other := msg("2", "10:00", "elsewhere")
	other.RoomID = "r2"
	h.ch.Deliver(transport.MessagesFetched{Messages: []store.Message{msg("1", "09:00", "here"), other}})
	flush(t, r)

	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("view = %v, want [1]", got)
	}
	stored, err := h.db.GetMessagesByRoom(context.Background(), "r2")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Content != "elsewhere" {
		t.Errorf("r2 stored = %+v", stored)
	}
}

func TestPersistFailureKeepsView(t *testing.T) {
	h := newHarness(t)
	r := h.open(t, "r1")
	h.ch.Deliver(transport.MessagePushed{Message: msg("1", "10:00", "kept")})
	flush(t, r)

	notices, unsub := h.bus.Subscribe(bus.KindRoomNotice, 10)
	defer unsub()
	h.store.putErr = errors.New("disk I/O error")
	h.ch.Deliver(transport.MessagePushed{Message: msg("2", "11:00", "lost")})
	flush(t, r)

	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("view = %v, want [1]", got)
	}
	evt := waitFor(t, notices, func(bus.Event) bool { return true })
	if n := evt.Payload.(Notice); !errors.Is(n.Err, ErrStorageUnavailable) {
		t.Errorf("notice = %v", n.Err)
	}
}

func TestClosedRoomIgnoresLateResponses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.open(t, "r1")
	h.ch.Deliver(transport.MessagePushed{Message: msg("1", "10:00", "before")})
	flush(t, r)

	if err := h.engine.CloseRoom(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	<-r.Done()
	if r.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", r.State())
	}

	late := transport.MessagesFetched{RoomID: "r1", Date: "2024-06-10", Messages: []store.Message{msg("2", "11:00", "late")}}
	h.ch.Deliver(late)
	r.onEvent(late)

	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("view = %v, want [1]", got)
	}
	stored, err := h.db.GetMessagesByRoom(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("stored %d messages, want 1", len(stored))
	}
	if _, err := r.LoadOlderMessages(ctx); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("LoadOlderMessages after close: %v", err)
	}
	if h.engine.Room("r1") != nil {
		t.Error("closed room still registered")
	}

	reopened := h.open(t, "r1")
	if reopened == r {
		t.Error("reopen returned the closed room")
	}
}

func putPrivateRoom(t *testing.T, db *store.DB, roomID string, participants ...store.Participant) {
	t.Helper()
	err := db.PutChatRoom(context.Background(), &store.ChatRoom{
		RoomID:       roomID,
		Type:         store.RoomPrivate,
		Participants: participants,
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	putPrivateRoom(t, h.db, "r1", store.Participant{ID: "u1", Phone: "+100"}, store.Participant{ID: "u2", Phone: "+200"})
	r := h.open(t, "r1")

	id, err := r.SendMessage(ctx, "hi", "", "")
	if err != nil {
		t.Fatal(err)
	}

	sent := h.ch.Sent(transport.ActionSendMessage)
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	out := sent[0].Data.(transport.OutgoingMessage)
	want := transport.OutgoingMessage{
		ClientMsgID: id,
		RoomID:      "r1",
		SenderID:    "u1",
		RecipientID: "u2",
		Content:     "hi",
		Type:        store.TypeText,
		CreatedAt:   "2024-06-10T12:00:00.000Z",
	}
	if out != want {
		t.Errorf("payload = %+v, want %+v", out, want)
	}
	if len(r.View()) != 0 {
		t.Error("send inserted into the view")
	}

	entry, err := h.db.GetOutbox(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Status != "sent" || entry.Attempts != 1 {
		t.Errorf("outbox entry = %+v", entry)
	}
}

func TestSendMessagePreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.open(t, "missing")
	if _, err := r.SendMessage(ctx, "hi", store.TypeText, ""); !errors.Is(err, ErrRoomNotInitialized) {
		t.Errorf("err = %v, want ErrRoomNotInitialized", err)
	}

	putPrivateRoom(t, h.db, "solo", store.Participant{ID: "u1", Phone: "+100"})
	solo := h.open(t, "solo")
	if _, err := solo.SendMessage(ctx, "hi", store.TypeText, ""); !errors.Is(err, ErrRecipientNotFound) {
		t.Errorf("err = %v, want ErrRecipientNotFound", err)
	}

	if _, err := solo.SendMessage(ctx, "hi", "sticker", ""); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("err = %v, want ErrInvalidMessage", err)
	}

	if n := len(h.ch.Sent(transport.ActionSendMessage)); n != 0 {
		t.Errorf("sent %d messages, want 0", n)
	}
}

func TestSendMessageFailureMarksOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	putPrivateRoom(t, h.db, "r1", store.Participant{ID: "u1"}, store.Participant{ID: "u2"})
	r := h.open(t, "r1")
	h.ch.FailSends(errors.New("socket closed"))

	if _, err := r.SendMessage(ctx, "hi", store.TypeText, ""); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}

	failed, err := h.db.FailedOutbox(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "socket closed" || failed[0].RecipientID != "u2" {
		t.Errorf("failed outbox = %+v", failed)
	}
}

func TestBackgroundIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.engine.Start(ctx)

	pushed := msg("7", "10:00", "while closed")
	pushed.RoomID = "r2"
	h.ch.Deliver(transport.MessagePushed{Message: pushed})
	fetched := msg("8", "10:00", "unrequested")
	fetched.RoomID = "r3"
	h.ch.Deliver(transport.MessagesFetched{RoomID: "r3", Messages: []store.Message{fetched}})

	if stored, _ := h.db.GetMessagesByRoom(ctx, "r3"); len(stored) != 0 {
		t.Errorf("fetch response for closed room stored: %v", stored)
	}

	r := h.open(t, "r2")
	if got := ids(r.View()); !reflect.DeepEqual(got, []string{"7"}) {
		t.Errorf("view = %v, want [7]", got)
	}
}

func TestOpenContact(t *testing.T) {
	res := &fakeResolver{room: &store.ChatRoom{RoomID: "r9", Type: store.RoomPrivate}}
	h := newHarness(t, WithResolver(res))

	r, err := h.engine.OpenContact(context.Background(), "+200")
	if err != nil {
		t.Fatal(err)
	}
	if r.ID() != "r9" {
		t.Errorf("room = %s, want r9", r.ID())
	}
	if res.selfPhone != "+100" || res.phone != "+200" {
		t.Errorf("resolver got (%s, %s)", res.selfPhone, res.phone)
	}
	if got := h.engine.OpenRooms(); !reflect.DeepEqual(got, []string{"r9"}) {
		t.Errorf("open rooms = %v", got)
	}
}
