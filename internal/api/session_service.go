package api

import (
	"context"
	"io"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionServer is the handler set of SessionService.
type SessionServer interface {
	Status(context.Context, *Empty) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	Connect(context.Context, *Empty) (*ConnectResponse, error)
}

// SessionServiceDesc describes SessionService for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "Status", SessionServer.Status),
		unary(SessionServiceName, "Login", SessionServer.Login),
		unary(SessionServiceName, "Logout", SessionServer.Logout),
		unary(SessionServiceName, "Connect", SessionServer.Connect),
	},
}

// SessionService reports daemon status and manages the credential and the
// transport connection.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	creds       *auth.Store
	db          *store.DB
	channel     transport.Channel
	engine      *chatsync.Engine
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, machine *status.Machine, creds *auth.Store, db *store.DB, ch transport.Channel, engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		creds:       creds,
		db:          db,
		channel:     ch,
		engine:      engine,
		bus:         b,
		logger:      logger,
	}
}

func (s *SessionService) Status(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Session:     s.sessionName,
		Status:      string(s.machine.Current()),
		StatusSince: formatTime(s.machine.Since()),
		StartedAt:   formatTime(s.startedAt),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		Connected:   s.channel.Connected(),
		OpenRooms:   s.engine.OpenRooms(),
	}

	if id, err := s.creds.Identity(); err == nil {
		resp.Authenticated = true
		resp.UserID = id.UserID
		resp.Phone = id.Phone
	}

	// Counts are best effort; a broken store still answers status.
	if counts, err := s.db.Counts(ctx); err == nil {
		resp.Contacts = counts.Contacts
		resp.ChatRooms = counts.ChatRooms
		resp.Messages = counts.Messages
		resp.Communities = counts.Communities
	}

	return resp, nil
}

// Login saves the token and tries to connect. A failed connection does not
// undo the login.
func (s *SessionService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	id, err := s.creds.Save(req.Token)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "login: %v", err)
	}
	s.logger.Info("credential saved", zap.String("user_id", id.UserID))

	resp := &LoginResponse{
		UserID:    id.UserID,
		Phone:     id.Phone,
		ExpiresAt: formatTime(id.ExpiresAt),
	}
	if err := s.connect(ctx); err != nil {
		resp.Error = err.Error()
	}
	resp.Connected = s.channel.Connected()
	return resp, nil
}

// Logout closes every room, drops the connection and the credential, and
// wipes the local store.
func (s *SessionService) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	for _, id := range s.engine.OpenRooms() {
		if err := s.engine.CloseRoom(ctx, id); err != nil {
			s.logger.Warn("failed to close room", zap.String("room", id), zap.Error(err))
		}
	}
	if err := s.creds.Clear(); err != nil {
		return nil, toStatus(err)
	}
	if c, ok := s.channel.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close transport", zap.Error(err))
		}
	}
	if err := s.db.ClearAll(ctx); err != nil {
		return nil, toStatus(err)
	}
	if err := s.machine.Settle(status.AuthRequired); err != nil {
		s.logger.Warn("status transition failed", zap.Error(err))
	}
	s.bus.Emit(bus.KindSessionLoggedOut, s.sessionName)
	s.logger.Info("logged out")
	return &Empty{}, nil
}

func (s *SessionService) Connect(ctx context.Context, _ *Empty) (*ConnectResponse, error) {
	if !s.creds.Present() {
		return nil, toStatus(chatsync.ErrUnauthenticated)
	}
	if err := s.connect(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
	}
	return &ConnectResponse{
		Connected: s.channel.Connected(),
		Status:    string(s.machine.Current()),
	}, nil
}

func (s *SessionService) connect(ctx context.Context) error {
	if s.channel.Connected() {
		return nil
	}
	if err := s.machine.Settle(status.Connecting); err != nil {
		s.logger.Warn("status transition failed", zap.Error(err))
	}
	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Warn("connect failed", zap.Error(err))
		_ = s.machine.Settle(status.Disconnected)
		return err
	}
	return s.machine.Settle(status.Ready)
}
