package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// CheckpointSyncedAt records when the directory was last mirrored.
const CheckpointSyncedAt = "directory.synced_at"

// Remote is the backend directory the syncer reads from.
type Remote interface {
	SavedContacts(ctx context.Context) ([]store.Contact, error)
	ChatRooms(ctx context.Context) ([]store.ChatRoom, error)
	CreateChatRoom(ctx context.Context, phoneA, phoneB string) (*store.ChatRoom, error)
	Communities(ctx context.Context) ([]store.Community, error)
}

// Store is the subset of the local store the syncer writes to.
type Store interface {
	PutContact(ctx context.Context, c *store.Contact) error
	PutContacts(ctx context.Context, contacts []store.Contact) error
	GetContact(ctx context.Context, phone string) (*store.Contact, error)
	PutChatRoom(ctx context.Context, r *store.ChatRoom) error
	GetChatRoom(ctx context.Context, roomID string) (*store.ChatRoom, error)
	GetChatRoomsByParticipant(ctx context.Context, phone string) ([]store.ChatRoom, error)
	PutCommunity(ctx context.Context, c *store.Community) error
	SetCheckpoint(ctx context.Context, key, value string) error
}

// Result summarizes a directory sync.
type Result struct {
	Contacts    int
	ChatRooms   int
	Communities int
	Linked      int
}

// Syncer mirrors the remote directory into the local store.
type Syncer struct {
	remote Remote
	store  Store
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(remote Remote, st Store, b *bus.Bus, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{remote: remote, store: st, bus: b, logger: logger, now: time.Now}
}

// SyncContacts fetches saved contacts, rooms and communities and stores
// them. Contacts that share a private room with the user get its room id.
func (s *Syncer) SyncContacts(ctx context.Context) (Result, error) {
	contacts, err := s.remote.SavedContacts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch contacts: %w", err)
	}
	rooms, err := s.remote.ChatRooms(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch chat rooms: %w", err)
	}

	var res Result
	roomByPhone := make(map[string]string)
	for i := range rooms {
		if err := s.store.PutChatRoom(ctx, &rooms[i]); err != nil {
			return res, fmt.Errorf("store room %s: %w", rooms[i].RoomID, err)
		}
		res.ChatRooms++
		if rooms[i].Type != store.RoomPrivate {
			continue
		}
		for _, p := range rooms[i].Participants {
			if _, seen := roomByPhone[p.Phone]; !seen && p.Phone != "" {
				roomByPhone[p.Phone] = rooms[i].RoomID
			}
		}
	}

	for i := range contacts {
		if id, ok := roomByPhone[contacts[i].Phone]; ok {
			contacts[i].RoomID = id
			res.Linked++
		}
	}
	if err := s.store.PutContacts(ctx, contacts); err != nil {
		return res, fmt.Errorf("store contacts: %w", err)
	}
	res.Contacts = len(contacts)

	communities, err := s.remote.Communities(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch communities", zap.Error(err))
	}
	for i := range communities {
		if err := s.store.PutCommunity(ctx, &communities[i]); err != nil {
			return res, fmt.Errorf("store community %s: %w", communities[i].ID, err)
		}
		res.Communities++
	}

	if err := s.store.SetCheckpoint(ctx, CheckpointSyncedAt, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("failed to record directory checkpoint", zap.Error(err))
	}
	s.logger.Info("directory synced",
		zap.Int("contacts", res.Contacts),
		zap.Int("rooms", res.ChatRooms),
		zap.Int("communities", res.Communities),
		zap.Int("linked", res.Linked),
	)
	s.bus.Emit(bus.KindDirectorySynced, res)
	return res, nil
}

// EnsureRoom returns the private room between selfPhone and phone, creating
// it on the backend when neither the contact link nor the local rooms know
// one. The contact is linked to the room either way.
func (s *Syncer) EnsureRoom(ctx context.Context, selfPhone, phone string) (*store.ChatRoom, error) {
	contact, err := s.store.GetContact(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact != nil && contact.RoomID != "" {
		room, err := s.store.GetChatRoom(ctx, contact.RoomID)
		if err != nil {
			return nil, err
		}
		if room != nil {
			return room, nil
		}
	}

	rooms, err := s.store.GetChatRoomsByParticipant(ctx, phone)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].Type == store.RoomPrivate && hasPhone(rooms[i], selfPhone) {
			return &rooms[i], s.link(ctx, phone, rooms[i].RoomID)
		}
	}

	room, err := s.remote.CreateChatRoom(ctx, selfPhone, phone)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if err := s.store.PutChatRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("store room %s: %w", room.RoomID, err)
	}
	s.logger.Info("chat room created", zap.String("room", room.RoomID), zap.String("phone", phone))
	return room, s.link(ctx, phone, room.RoomID)
}

func (s *Syncer) link(ctx context.Context, phone, roomID string) error {
	if err := s.store.PutContact(ctx, &store.Contact{Phone: phone, RoomID: roomID}); err != nil {
		return fmt.Errorf("link contact %s: %w", phone, err)
	}
	return nil
}

func hasPhone(r store.ChatRoom, phone string) bool {
	if phone == "" {
		return true
	}
	for _, p := range r.Participants {
		if p.Phone == phone {
			return true
		}
	}
	return false
}
