package esl

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Callback receives a single dispatched Event. It must not block for long;
// Dispatch runs all matching subscribers for one event synchronously in
// registration order.
type Callback func(Event)

// Subscription is a registered (event_name, optional uuid) -> callback
// entry. Subscriptions are normally removed by Unsubscribe, either
// explicitly or by a one-shot wrapper created with SubscribeOnce.
type Subscription struct {
	id        uint64
	eventName string
	uuid      string // "" matches any uuid
	cb        Callback
}

// Router demultiplexes the ESL event stream into per-subscriber
// notifications keyed by (event_name, optional uuid). It holds no
// ownership over Legs or Calls — only enough to know who to call.
type Router struct {
	mu     sync.Mutex
	subs   []*Subscription
	idSeq  atomic.Uint64
	logger *slog.Logger
}

// NewRouter creates an event router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger.With("subsystem", "esl-router")}
}

// Subscribe registers a durable callback for eventName restricted to uuid
// (pass "" to match any channel). It is the caller's responsibility to call
// Unsubscribe when done; Subscribe does not expire automatically.
func (r *Router) Subscribe(eventName, uuid string, cb Callback) uint64 {
	return r.subscribe(eventName, uuid, func(uint64) Callback { return cb })
}

// SubscribeOnce registers a callback that fires at most once: on the first
// matching event it unsubscribes itself and delivers the event on the
// returned channel (buffered, capacity 1). This is the shape every "wait for
// event" step in the orchestrator uses.
func (r *Router) SubscribeOnce(eventName, uuid string) (id uint64, ch <-chan Event) {
	out := make(chan Event, 1)
	id = r.subscribe(eventName, uuid, func(id uint64) Callback {
		return func(ev Event) {
			r.Unsubscribe(id)
			select {
			case out <- ev:
			default:
			}
		}
	})
	return id, out
}

// subscribe reserves an id before constructing the callback, so a callback
// can safely unsubscribe itself by id without racing the caller's own
// assignment of the returned id.
func (r *Router) subscribe(eventName, uuid string, makeCB func(uint64) Callback) uint64 {
	id := r.idSeq.Add(1)
	sub := &Subscription{id: id, eventName: eventName, uuid: uuid}
	sub.cb = makeCB(id)

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription. It is safe to call more than once or
// with an id that no longer exists (already fired one-shot subscriptions,
// or teardown racing an in-flight dispatch).
func (r *Router) Unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers ev to every subscriber whose key matches, in
// registration order. A panicking callback is recovered and logged; it
// never interrupts dispatch to siblings.
func (r *Router) Dispatch(ev Event) {
	name := ev.Name()
	uuid := ev.UUID()

	r.mu.Lock()
	matches := make([]*Subscription, 0, 2)
	for _, s := range r.subs {
		if s.eventName != name {
			continue
		}
		if s.uuid != "" && s.uuid != uuid {
			continue
		}
		matches = append(matches, s)
	}
	r.mu.Unlock()

	for _, s := range matches {
		r.invoke(s, ev)
	}
}

func (r *Router) invoke(s *Subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event subscriber panicked",
				"event", s.eventName,
				"uuid", s.uuid,
				"panic", rec,
			)
		}
	}()
	s.cb(ev)
}

// Teardown removes all subscriptions, used when the orchestrator shuts
// down. Subscribers are not notified; callers that need a disconnect signal
// should select on the Client's Done channel instead.
func (r *Router) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = nil
}
