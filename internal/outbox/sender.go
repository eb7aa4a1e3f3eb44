// Package outbox redelivers outgoing messages whose dispatch failed.
package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Store is the outbox view of the local store.
type Store interface {
	FailedOutbox(ctx context.Context, maxAttempts int) ([]store.OutboxEntry, error)
	MarkOutboxSent(ctx context.Context, clientMsgID string) error
	MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error
}

// Credentials identifies the sender of retried messages.
type Credentials interface {
	Identity() (auth.Identity, error)
}

// Config controls retry pacing.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Retry is the payload of outbox.retried events.
type Retry struct {
	ClientMsgID string
	RoomID      string
	Err         error
}

// Sender periodically resends failed outbox entries while the transport is
// connected. Entries are dropped from retry once they reach MaxAttempts.
type Sender struct {
	store   Store
	channel transport.Channel
	creds   Credentials
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     Config
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(st Store, ch transport.Channel, creds Credentials, b *bus.Bus, logger *zap.Logger, cfg Config) *Sender {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Sender{
		store:   st,
		channel: ch,
		creds:   creds,
		bus:     b,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start begins polling the outbox for failed messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RetryFailed(ctx); err != nil {
				s.logger.Error("failed to read outbox", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RetryFailed resends every retryable entry once and returns how many were
// handed to the transport. Nothing is attempted while disconnected or
// signed out.
func (s *Sender) RetryFailed(ctx context.Context) (int, error) {
	if !s.channel.Connected() {
		return 0, nil
	}
	self, err := s.creds.Identity()
	if err != nil {
		return 0, nil
	}
	entries, err := s.store.FailedOutbox(ctx, s.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range entries {
		entry := &entries[i]
		err := s.channel.Send(ctx, transport.SendMessage(chatsync.OutgoingFromEntry(entry, self.UserID)))
		if err != nil {
			s.logger.Warn("retry failed", zap.Error(err),
				zap.String("client_msg_id", entry.ClientMsgID),
				zap.Int("attempts", entry.Attempts+1),
			)
			if markErr := s.store.MarkOutboxFailed(ctx, entry.ClientMsgID, err.Error()); markErr != nil {
				s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("client_msg_id", entry.ClientMsgID))
			}
		} else {
			sent++
			if markErr := s.store.MarkOutboxSent(ctx, entry.ClientMsgID); markErr != nil {
				s.logger.Error("failed to mark sent", zap.Error(markErr), zap.String("client_msg_id", entry.ClientMsgID))
			}
			s.logger.Info("message resent", zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.bus.Emit(bus.KindOutboxRetried, Retry{ClientMsgID: entry.ClientMsgID, RoomID: entry.RoomID, Err: err})
	}
	return sent, nil
}
