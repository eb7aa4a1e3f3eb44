package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// RoomServer is the handler set of RoomService.
type RoomServer interface {
	Open(context.Context, *RoomRequest) (*RoomView, error)
	Close(context.Context, *RoomRequest) (*Empty, error)
	View(context.Context, *RoomRequest) (*RoomView, error)
	LoadOlder(context.Context, *RoomRequest) (*OlderResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	RetryOutbox(context.Context, *Empty) (*RetryResponse, error)
	Watch(*WatchRequest, grpc.ServerStream, func(*Event) error) error
}

// RoomServiceDesc describes RoomService for grpc.Server.RegisterService.
var RoomServiceDesc = grpc.ServiceDesc{
	ServiceName: RoomServiceName,
	HandlerType: (*RoomServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(RoomServiceName, "Open", RoomServer.Open),
		unary(RoomServiceName, "Close", RoomServer.Close),
		unary(RoomServiceName, "View", RoomServer.View),
		unary(RoomServiceName, "LoadOlder", RoomServer.LoadOlder),
		unary(RoomServiceName, "Send", RoomServer.Send),
		unary(RoomServiceName, "RetryOutbox", RoomServer.RetryOutbox),
	},
	Streams: []grpc.StreamDesc{
		serverStream("Watch", RoomServer.Watch),
	},
}

// watchNamespaces are the bus prefixes streamed by Watch.
var watchNamespaces = []string{"room.", "transport.", "session.", "directory.", "outbox."}

// RoomService drives the sync engine's rooms.
type RoomService struct {
	engine *chatsync.Engine
	sender *outbox.Sender
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRoomService creates a new room service.
func NewRoomService(engine *chatsync.Engine, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *RoomService {
	return &RoomService{engine: engine, sender: sender, bus: b, logger: logger}
}

// Open opens the room by id, or the private room with a contact by phone.
func (s *RoomService) Open(ctx context.Context, req *RoomRequest) (*RoomView, error) {
	var (
		room *chatsync.Room
		err  error
	)
	switch {
	case req.RoomID != "":
		room, err = s.engine.OpenRoom(ctx, req.RoomID)
	case req.Phone != "":
		room, err = s.engine.OpenContact(ctx, req.Phone)
	default:
		return nil, grpcstatus.Error(codes.InvalidArgument, "roomId or phone is required")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return roomView(room), nil
}

func (s *RoomService) Close(ctx context.Context, req *RoomRequest) (*Empty, error) {
	if req.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "roomId is required")
	}
	if err := s.engine.CloseRoom(ctx, req.RoomID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *RoomService) View(_ context.Context, req *RoomRequest) (*RoomView, error) {
	room, err := s.openRoom(req.RoomID)
	if err != nil {
		return nil, err
	}
	return roomView(room), nil
}

func (s *RoomService) LoadOlder(ctx context.Context, req *RoomRequest) (*OlderResponse, error) {
	room, err := s.openRoom(req.RoomID)
	if err != nil {
		return nil, err
	}
	requested, err := room.LoadOlderMessages(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OlderResponse{
		Requested: requested,
		State:     string(room.State()),
		Oldest:    room.OldestRequested(),
	}, nil
}

// Send opens the room when needed, then dispatches the message.
func (s *RoomService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if req.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "roomId is required")
	}
	room, err := s.engine.OpenRoom(ctx, req.RoomID)
	if err != nil {
		return nil, toStatus(err)
	}
	msgType := store.MessageType(req.Type)
	if msgType == "" {
		msgType = store.TypeText
	}
	id, err := room.SendMessage(ctx, req.Content, msgType, req.MediaRef)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{ClientMsgID: id}, nil
}

func (s *RoomService) RetryOutbox(ctx context.Context, _ *Empty) (*RetryResponse, error) {
	n, err := s.sender.RetryFailed(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RetryResponse{Retried: n}, nil
}

// Watch streams bus events until the client goes away. Room events for
// other rooms are skipped when RoomID is set.
func (s *RoomService) Watch(req *WatchRequest, stream grpc.ServerStream, send func(*Event) error) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			if !watched(evt.Kind) {
				continue
			}
			out := eventFromBus(uuid.NewString(), evt)
			if req.RoomID != "" && strings.HasPrefix(evt.Kind, "room.") && out.RoomID != req.RoomID {
				continue
			}
			if err := send(&out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *RoomService) openRoom(roomID string) (*chatsync.Room, error) {
	if roomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "roomId is required")
	}
	room := s.engine.Room(roomID)
	if room == nil {
		return nil, toStatus(fmt.Errorf("%w: room %s is not open", chatsync.ErrRoomNotInitialized, roomID))
	}
	return room, nil
}

func watched(kind string) bool {
	for _, ns := range watchNamespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}
