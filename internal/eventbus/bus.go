package eventbus

import (
	"sync"

	"github.com/mycoool/boneagent/internal/logging"
)

// Event is a process-local notification. Fields beyond Type and ToProcess
// travel in Payload and are flattened next to them when serialized.
type Event struct {
	Type      string
	ToProcess string
	Message   string
	Payload   map[string]any
}

// Fields renders the event the way consumers read it off the wire.
func (e Event) Fields() map[string]any {
	out := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = e.Type
	if e.ToProcess != "" {
		out["toProcess"] = e.ToProcess
	}
	if e.Message != "" {
		out["message"] = e.Message
	}
	return out
}

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      uint64
	typ     string // empty matches every type
	handler Handler
}

// Bus is an in-process publish/subscribe mechanism. Publish is fire and
// forget: handlers run synchronously in subscription order and a failing
// handler does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	log    logging.Logger
}

// New constructs an empty Bus.
func New(log logging.Logger) *Bus {
	if log == nil {
		log = logging.New("eventbus")
	}
	return &Bus{log: log}
}

// Subscribe registers handler for eventType and returns a function removing it.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, typ: eventType, handler: handler})
	return func() { b.unsubscribe(id) }
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.Subscribe("", handler)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches ev to the current subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ == "" || s.typ == ev.Type {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.log.WithField("type", ev.Type).WithField("subscribers", len(targets)).Debug("publishing event")
	for _, s := range targets {
		b.dispatch(s, ev)
	}
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("type", ev.Type).Errorf("event handler panicked: %v", r)
		}
	}()
	s.handler(ev)
}
