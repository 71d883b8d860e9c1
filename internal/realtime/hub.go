package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/example/ride-passenger/internal/observability"
)

// ErrClosed is returned by Subscribe after the hub has been closed.
var ErrClosed = errors.New("realtime hub closed")

const subscriberQueue = 64

// Hub is an in-process fan-out of changes to filtered subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	id      uint64
	hub     *Hub
	filter  Filter
	handler Handler
	queue   chan Change
	done    chan struct{}
	once    sync.Once
}

func (h *Hub) Subscribe(f Filter, handler Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	s := &subscriber{
		id:      h.nextID,
		hub:     h,
		filter:  f,
		handler: handler,
		queue:   make(chan Change, subscriberQueue),
		done:    make(chan struct{}),
	}
	h.subs[s.id] = s
	observability.RealtimeSubscriptions.Inc()
	go s.loop()
	return s, nil
}

// Publish delivers c to every matching subscriber. It blocks while a
// subscriber's queue is full so that no event is dropped.
func (h *Hub) Publish(c Change) {
	observability.RealtimeEventsTotal.WithLabelValues(c.Table).Inc()
	var row map[string]any
	if len(c.Record) > 0 {
		_ = json.Unmarshal(c.Record, &row)
	}
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.matches(c, row) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range targets {
		select {
		case s.queue <- c:
		case <-s.done:
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.done:
			return
		case c := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(c)
		}
	}
}

func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		observability.RealtimeSubscriptions.Dec()
	})
}
