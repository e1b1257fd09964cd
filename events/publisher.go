// Package events is an optional observability fan-out: it mirrors action
// triggers, parameter writes and channel state transitions onto NATS subjects
// so external consumers can subscribe instead of polling the store. The
// bridge never depends on NATS being up; every publish is best effort and a
// nil Publisher disables the feature entirely.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/avatarbridge/channel"
	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/param"
	"github.com/c360/avatarbridge/router"
)

// DefaultSubjectPrefix is used when the config leaves the prefix empty
const DefaultSubjectPrefix = "bridge.events"

// ActionEvent is published on <prefix>.action
type ActionEvent struct {
	Name      string    `json:"name"`
	Edge      string    `json:"edge"`
	Timestamp time.Time `json:"timestamp"`
}

// ParamEvent is published on <prefix>.param
type ParamEvent struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Float     float64   `json:"float,omitempty"`
	Bool      bool      `json:"bool,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelEvent is published on <prefix>.channel
type ChannelEvent struct {
	Channel   string    `json:"channel"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Cause     string    `json:"cause,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// natsConn is the slice of *nats.Conn the publisher needs; tests substitute
// an in-memory fake.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Publisher mirrors bridge events onto NATS. All methods are nil-safe: a nil
// Publisher silently drops everything.
type Publisher struct {
	conn   natsConn
	prefix string
	logger *slog.Logger
}

// Connect creates a Publisher against the given NATS URL. The connection
// reconnects indefinitely on its own; publishes while disconnected are
// buffered or dropped by the client, never blocking the bridge.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("avatarbridge-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "events", "Connect", "connect to NATS")
	}

	return &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "events"),
	}, nil
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// PublishTrigger mirrors one action trigger
func (p *Publisher) PublishTrigger(trigger router.ActionTrigger) {
	p.publish("action", ActionEvent{
		Name:      trigger.Name,
		Edge:      trigger.Edge.String(),
		Timestamp: time.Now(),
	})
}

// PublishParam mirrors one parameter write
func (p *Publisher) PublishParam(v param.Value) {
	p.publish("param", ParamEvent{
		Name:      v.Name,
		Kind:      v.Kind.String(),
		Float:     v.Float,
		Bool:      v.Bool,
		Source:    v.Source,
		Timestamp: v.UpdatedAt,
	})
}

// PublishTransition mirrors one channel state transition
func (p *Publisher) PublishTransition(name string, from, to channel.State, cause error) {
	event := ChannelEvent{
		Channel:   name,
		From:      from.String(),
		To:        to.String(),
		Timestamp: time.Now(),
	}
	if cause != nil {
		event.Cause = cause.Error()
	}
	p.publish("channel", event)
}

func (p *Publisher) publish(kind string, event any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := p.conn.Publish(p.prefix+"."+kind, data); err != nil {
		logger := p.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("event publish dropped", "kind", kind, "error", err)
	}
}
