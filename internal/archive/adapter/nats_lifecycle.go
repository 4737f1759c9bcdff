package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aelexs/archivebot/internal/supervisor"
)

// natsPublisher is the subset of *nats.Conn the lifecycle publisher uses.
type natsPublisher interface {
	Publish(subj string, data []byte) error
}

var _ supervisor.LifecyclePublisher = (*NATSLifecyclePublisher)(nil)

// NATSLifecyclePublisher fans session lifecycle events out on a subject,
// one JSON message per event. Publishing is fire-and-forget.
type NATSLifecyclePublisher struct {
	conn    natsPublisher
	subject string
}

// ConnectNATS dials url and keeps reconnecting in the background.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("archivebot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewNATSLifecyclePublisher publishes on subject through conn.
func NewNATSLifecyclePublisher(conn natsPublisher, subject string) *NATSLifecyclePublisher {
	return &NATSLifecyclePublisher{conn: conn, subject: subject}
}

// Publish encodes ev and hands it to the connection's outbound buffer. The
// subject gets the event kind appended, e.g. archivebot.lifecycle.ready.
func (p *NATSLifecyclePublisher) Publish(ctx context.Context, ev supervisor.LifecycleEvent) error {
	_, span := tracer.Start(ctx, "nats.lifecycle.publish")
	defer span.End()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal: %w", err)
	}
	subject := p.subject + "." + ev.Kind
	if err := p.conn.Publish(subject, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("lifecycle: publish %s: %w", subject, err)
	}
	return nil
}
