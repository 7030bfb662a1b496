package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// NATSTransport publishes over a NATS connection. Routing keys map
// directly to subjects.
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATSTransport connects to the given NATS URL with reconnect enabled.
func NewNATSTransport(url string) (*NATSTransport, error) {
	conn, err := nats.Connect(url,
		nats.Name("scholarpipe-publisher"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	return &NATSTransport{conn: conn}, nil
}

// Publish sends and flushes so the broker has the frame before we return.
func (t *NATSTransport) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if err := t.conn.Publish(routingKey, payload); err != nil {
		return err
	}
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return t.conn.FlushTimeout(timeout)
}

// HealthCheck reports whether the connection is currently up.
func (t *NATSTransport) HealthCheck(_ context.Context) bool {
	return t.conn.Status() == nats.CONNECTED
}

// Close drains pending publishes and closes the connection.
func (t *NATSTransport) Close() error {
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return err
	}
	return nil
}

var _ Transport = (*NATSTransport)(nil)
