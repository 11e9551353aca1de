package pipeline

import "legal-intake-orchestrator/internal/domain"

type EventKind string

const (
	EventDataSet       EventKind = "data_set"
	EventStepCompleted EventKind = "step_completed"
	EventStepChanged   EventKind = "step_changed"
	EventReset         EventKind = "reset"
)

type Event struct {
	Kind       EventKind   `json:"kind"`
	DocumentID string      `json:"document_id"`
	Step       domain.Step `json:"step"`
	Previous   domain.Step `json:"previous,omitempty"`
}

// Bus delivers store events to the subscribers of one session, synchronously
// and in publish order.
type Bus struct {
	nextID int
	subs   map[int]func(Event)
	order  []int
}

func newBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

func (b *Bus) subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	return func() {
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) publish(e Event) {
	// Copy so a subscriber may unsubscribe while handling an event.
	ids := append([]int(nil), b.order...)
	for _, id := range ids {
		if fn, ok := b.subs[id]; ok {
			fn(e)
		}
	}
}
