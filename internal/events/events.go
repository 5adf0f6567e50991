// Package events fans settlement records and market snapshots out to
// downstream consumers (Kafka, WebSocket clients).
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// Type tags the payload of an Event.
type Type string

const (
	TypeSettlement Type = "settlement"
	TypeSnapshot   Type = "snapshot"
)

// Event is one message on the market event stream. Exactly one of
// Settlement and Snapshot is set, matching Type.
type Event struct {
	Type       Type                  `json:"type"`
	Market     string                `json:"market"`
	Settlement *model.Settlement     `json:"settlement,omitempty"`
	Snapshot   *model.MarketSnapshot `json:"snapshot,omitempty"`
	Time       time.Time             `json:"time"`
}

// SettlementEvent wraps a settlement record.
func SettlementEvent(s model.Settlement) Event {
	return Event{Type: TypeSettlement, Market: s.Market, Settlement: &s, Time: s.Timestamp}
}

// SnapshotEvent wraps a market snapshot.
func SnapshotEvent(s model.MarketSnapshot) Event {
	return Event{Type: TypeSnapshot, Market: s.Market, Snapshot: &s, Time: s.UpdatedAt}
}

// Publisher delivers events to one downstream.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
