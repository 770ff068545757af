package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// NATSBus publishes through JetStream so events survive a notifications
// service restart.
type NATSBus struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectNATS dials the server and opens a JetStream context.
func ConnectNATS(url, clientName string, log *logger.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}
	return &NATSBus{conn: nc, js: js}, nil
}

// Publish sends data and waits for the stream acknowledgement.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := b.js.Publish(ctx, subject, data)
	return err
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
