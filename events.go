package synapsd

import (
	"slices"
	"sync"
	"time"

	"github.com/canvas-server/synapsd/model"
)

// EventType names a lifecycle event.
type EventType string

// Lifecycle events, emitted once per successful write.
const (
	EventInsert EventType = "index:insert"
	EventUpdate EventType = "index:update"
	EventRemove EventType = "index:remove"
	EventDelete EventType = "index:delete"
)

// Event describes a committed write.
type Event struct {
	Type EventType
	ID   model.ID
	Time time.Time
}

// EventHandler receives events. Handlers run synchronously on the writing
// goroutine after the write committed and the index lock was released, so
// they may call back into the index.
type EventHandler func(Event)

type subscription struct {
	id      uint64
	handler EventHandler
	types   []EventType
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

type eventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription
}

func newEventBus() *eventBus {
	return &eventBus{}
}

func (b *eventBus) subscribe(h EventHandler, types []EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscription{id: id, handler: h, types: slices.Clone(types)})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s.id == id })
		})
	}
}

func (b *eventBus) emit(e Event, logger *Logger) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(e.Type) {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("event handler panicked", "event", string(e.Type), "id", uint32(e.ID), "panic", p)
				}
			}()
			s.handler(e)
		}()
	}
}

// Subscribe registers h for the given event types, or for all events when
// none are given. The returned function removes the subscription.
func (db *SynapsD) Subscribe(h EventHandler, types ...EventType) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	return db.events.subscribe(h, types)
}

func (db *SynapsD) emit(t EventType, id model.ID) {
	db.events.emit(Event{Type: t, ID: id, Time: db.opts.now()}, db.logger)
}
