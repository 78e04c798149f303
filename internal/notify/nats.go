package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix prefixes every forwarded notification subject.
const DefaultSubjectPrefix = "usbmon.events"

// MessagePublisher is the subset of *nats.Conn used by the forwarder.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder drains a subscription and publishes each notification as
// JSON to "<prefix>.<kind>".
type NATSForwarder struct {
	conn   MessagePublisher
	prefix string
	logger zerolog.Logger
}

// NewNATSForwarder creates a forwarder. An empty prefix uses DefaultSubjectPrefix.
func NewNATSForwarder(conn MessagePublisher, prefix string, logger zerolog.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSForwarder{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject a notification of kind k is published on.
func (f *NATSForwarder) Subject(k Kind) string {
	return f.prefix + "." + string(k)
}

// Run forwards notifications until ctx is done or in is closed.
// Publish failures are logged and do not stop forwarding.
func (f *NATSForwarder) Run(ctx context.Context, in <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-in:
			if !ok {
				return
			}
			if err := f.forward(n); err != nil {
				f.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to forward notification")
			}
		}
	}
}

func (f *NATSForwarder) forward(n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := f.conn.Publish(f.Subject(n.Kind), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// ConnectNATS dials the NATS server at url with a client name suitable for
// the daemon.
func ConnectNATS(url string, logger zerolog.Logger, opts ...nats.Option) (*nats.Conn, error) {
	opts = append([]nats.Option{
		nats.Name("usbmond"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}
