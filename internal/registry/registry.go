// Package registry maps message topics to the handlers interested in them.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Wildcard subscribers receive every message after topic subscribers.
const Wildcard = proto.Wildcard

// Handler consumes a dispatched message. Handlers run on the dispatching
// goroutine and must not block.
type Handler func(env *proto.Envelope)

type subscription struct {
	id      string
	topic   proto.Topic
	handler Handler
	active  atomic.Bool
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	ID    string
	Topic proto.Topic

	registry *Registry
	sub      *subscription
}

// Active reports whether the handler is still registered.
func (s *Subscription) Active() bool {
	return s != nil && s.sub != nil && s.sub.active.Load()
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.Unsubscribe(s.ID)
}

// Registry holds topic subscriptions and dispatches messages to them in
// registration order, wildcard subscribers last.
type Registry struct {
	subscriptions map[string]*subscription
	topicSubs     map[proto.Topic][]*subscription // topic -> handlers in registration order
	mu            sync.RWMutex
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		subscriptions: make(map[string]*subscription),
		topicSubs:     make(map[proto.Topic][]*subscription),
		logger:        log.With().Str("component", "registry").Logger(),
		metrics:       metrics.GetMetrics(),
	}
}

// Subscribe registers handler for topic. Use Wildcard to receive
// every message.
func (r *Registry) Subscribe(topic proto.Topic, handler Handler) *Subscription {
	sub := &subscription{
		id:      generateID(),
		topic:   topic,
		handler: handler,
	}
	sub.active.Store(true)

	r.mu.Lock()
	r.subscriptions[sub.id] = sub
	r.topicSubs[topic] = append(r.topicSubs[topic], sub)
	r.mu.Unlock()

	r.metrics.SubscriptionsActive.Inc()

	return &Subscription{ID: sub.id, Topic: topic, registry: r, sub: sub}
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptions[id]
	if !ok {
		return
	}
	sub.active.Store(false)
	delete(r.subscriptions, id)

	subs := r.topicSubs[sub.topic]
	for i, s := range subs {
		if s == sub {
			// Copy so an in-flight dispatch keeps iterating its own snapshot
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			subs = next
			break
		}
	}
	if len(subs) == 0 {
		delete(r.topicSubs, sub.topic)
	} else {
		r.topicSubs[sub.topic] = subs
	}

	r.metrics.SubscriptionsActive.Dec()
}

// Dispatch delivers env to the handlers of its topic, then to wildcard
// handlers. A panicking handler is logged and does not stop delivery.
// Returns the number of handlers invoked.
func (r *Registry) Dispatch(env *proto.Envelope) int {
	if env == nil {
		return 0
	}

	r.mu.RLock()
	topicSubs := r.topicSubs[env.Type]
	wildcardSubs := r.topicSubs[Wildcard]
	r.mu.RUnlock()

	delivered := 0
	for _, subs := range [][]*subscription{topicSubs, wildcardSubs} {
		for _, sub := range subs {
			// Unsubscribed during this dispatch
			if !sub.active.Load() {
				continue
			}
			if r.invoke(sub, env) {
				delivered++
			}
		}
	}

	if delivered == 0 {
		r.logger.Debug().Str("topic", string(env.Type)).Msg("No handlers for message")
	}
	return delivered
}

func (r *Registry) invoke(sub *subscription, env *proto.Envelope) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			r.metrics.HandlerPanicsTotal.WithLabelValues(string(env.Type)).Inc()
			r.logger.Error().
				Str("subscription_id", sub.id).
				Str("topic", string(env.Type)).
				Str("panic", fmt.Sprint(rec)).
				Msg("Handler panicked")
		}
	}()
	sub.handler(env)
	return true
}

// Len returns the number of handlers registered for topic.
func (r *Registry) Len(topic proto.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topicSubs[topic])
}

// Clear removes every subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subscriptions {
		sub.active.Store(false)
		delete(r.subscriptions, id)
		r.metrics.SubscriptionsActive.Dec()
	}
	r.topicSubs = make(map[proto.Topic][]*subscription)
}

// Variable for generating unique subscription IDs
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
