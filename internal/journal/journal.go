// Package journal records what the sync core did with remote operations:
// replay outcomes, dropped queue entries and sync passes.
package journal

import (
	"context"
	"sync"
	"time"

	"readaloud/internal/models"
)

// Kind groups journal events
type Kind string

const (
	KindReplay Kind = "replay"
	KindDrop   Kind = "drop"
	KindPush   Kind = "push"
	KindPull   Kind = "pull"
	KindUpload Kind = "upload"
)

// Outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"
	OutcomeExhausted = "exhausted"
	OutcomeSkipped   = "skipped"
	OutcomeEmbedded  = "embedded"
)

// Event is one journal row
type Event struct {
	At        time.Time        `json:"at"`
	DeviceID  string           `json:"device_id"`
	Kind      Kind             `json:"kind"`
	Table     models.Table     `json:"table,omitempty"`
	Operation models.Operation `json:"operation,omitempty"`
	Outcome   string           `json:"outcome"`
	Count     int              `json:"count"`
	Detail    string           `json:"detail,omitempty"`
}

// Recorder persists journal events
type Recorder interface {
	Record(ctx context.Context, events ...Event) error
}

// Reader returns the latest events, newest first
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Nop discards everything
type Nop struct{}

func (Nop) Record(context.Context, ...Event) error { return nil }

// Memory keeps events in process memory
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemory creates an empty in-memory journal
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

// Events returns a copy of everything recorded, oldest first
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}
