package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"biopass/pkg/requestcontext"
)

// Publisher appends audit events to the audit stream. Emit must be safe for
// concurrent use and must never block the verification hot path for long;
// implementations buffer or produce asynchronously.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Fill stamps the generated fields every implementation needs.
func Fill(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return event
}

// NopPublisher drops events. Wired when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, Event) {}

// MemoryPublisher collects events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(ctx context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Fill(ctx, event))
}

// Events returns a snapshot of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByAction filters the snapshot to one action.
func (p *MemoryPublisher) ByAction(action string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
