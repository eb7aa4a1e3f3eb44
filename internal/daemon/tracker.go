package daemon

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

type credentialChecker interface {
	Present() bool
}

// trackTransport mirrors transport bus events into the status machine until
// the returned stop function is called. A disconnect without a credential
// means the user logged out.
func trackTransport(b *bus.Bus, m *status.Machine, creds credentialChecker, logger *zap.Logger) func() {
	ch, unsub := b.Subscribe("transport.", 16)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				to := status.Ready
				if evt.Kind == bus.KindTransportDisconnected {
					to = status.Disconnected
					if !creds.Present() {
						to = status.AuthRequired
					}
				}
				if err := m.Settle(to); err != nil {
					logger.Warn("status transition failed", zap.String("event", evt.Kind), zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		unsub()
		close(done)
	}
}
