package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects. Topics are
// re-rooted under the configured prefix.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url. An empty prefix keeps DefaultPrefix.
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("provenance-cli"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, eris.Wrapf(err, "events: connect to NATS at %s", url)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject maps a topic constant to the subject it is published on.
func (p *NATSPublisher) Subject(topic string) string {
	if rest, ok := strings.CutPrefix(topic, DefaultPrefix); ok {
		return p.prefix + rest
	}
	return topic
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}
	if err := p.conn.Publish(p.Subject(topic), data); err != nil {
		return eris.Wrapf(err, "events: publish %s", topic)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	return eris.Wrap(err, "events: flush")
}
