package collector

import (
	"context"
	"sync"
	"time"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/event"
)

// Sink stores accepted events and answers aggregate queries.
type Sink interface {
	// Store persists events, returning how many were newly stored.
	// Duplicate event ids are silently skipped.
	Store(ctx context.Context, events []event.Event) (int, error)
	Aggregate(ctx context.Context, start, end time.Time) (*delivery.AnalyticsReport, error)
}

// MemorySink is the default sink: events held in memory, deduplicated
// by event id.
type MemorySink struct {
	mu     sync.Mutex
	events []event.Event
	seen   map[string]struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

func (m *MemorySink) Store(ctx context.Context, events []event.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := 0
	for _, ev := range events {
		if _, dup := m.seen[ev.ID]; dup {
			continue
		}
		m.seen[ev.ID] = struct{}{}
		m.events = append(m.events, ev)
		stored++
	}
	return stored, nil
}

func (m *MemorySink) Aggregate(ctx context.Context, start, end time.Time) (*delivery.AnalyticsReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &delivery.AnalyticsReport{EventsByName: make(map[string]int64)}
	users := make(map[string]struct{})
	for _, ev := range m.events {
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		report.TotalEvents++
		report.EventsByName[ev.Name]++
		if ev.UserID != "" {
			users[ev.UserID] = struct{}{}
		}
	}
	report.UniqueUsers = int64(len(users))
	return report, nil
}

// Len reports the number of stored events (test helper).
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Events returns a copy of the stored events (test helper).
func (m *MemorySink) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out
}
