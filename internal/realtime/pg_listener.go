package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the channel the row_changes trigger notifies on.
const NotifyChannel = "row_changes"

// PGListener turns Postgres NOTIFY payloads into hub changes. The underlying
// pq.Listener reconnects on its own; drops are logged, never returned.
type PGListener struct {
	listener *pq.Listener
	pub      Publisher
	logger   *slog.Logger
}

func NewPGListener(dsn string, pub Publisher, logger *slog.Logger) (*PGListener, error) {
	p := &PGListener{pub: pub, logger: logger}
	p.listener = pq.NewListener(dsn, time.Second, 30*time.Second, p.onEvent)
	if err := p.listener.Listen(NotifyChannel); err != nil {
		_ = p.listener.Close()
		return nil, err
	}
	return p, nil
}

func (p *PGListener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		p.logger.Warn("realtime listener disconnected", "error", err)
	case pq.ListenerEventConnectionAttemptFailed:
		p.logger.Warn("realtime listener reconnect failed", "error", err)
	case pq.ListenerEventReconnected:
		p.logger.Info("realtime listener reconnected")
	}
}

// Run pumps notifications until ctx is done.
func (p *PGListener) Run(ctx context.Context) error {
	defer p.listener.Close()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-p.listener.Notify:
			if n == nil {
				// sent after a reconnect; events in the gap are lost and
				// consumers keep their last known rows
				continue
			}
			c, err := DecodeNotification([]byte(n.Extra))
			if err != nil {
				p.logger.Warn("invalid realtime notification", "error", err)
				continue
			}
			p.pub.Publish(c)
		case <-ping.C:
			go func() { _ = p.listener.Ping() }()
		}
	}
}
