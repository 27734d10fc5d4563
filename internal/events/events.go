// Package events publishes asset state transitions for external observers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/spachava753/geosync/internal/models"
)

// Event is one ledger transition.
type Event struct {
	Asset       string            `json:"asset"`
	State       models.AssetState `json:"state"`
	Reason      string            `json:"reason,omitempty"`
	Destination string            `json:"destination"`
	Kind        string            `json:"kind,omitempty"`
	ErrorType   models.ErrorType  `json:"error_type,omitempty"`
	Time        time.Time         `json:"time"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() {}

// Subject returns the subject an event for state is published on.
func Subject(prefix string, state models.AssetState) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(state)
}

// NATSPublisher publishes each event as JSON on <prefix>.<state>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	if prefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	opts = append([]nats.Option{nats.Name("geosync")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, ev.State), data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
