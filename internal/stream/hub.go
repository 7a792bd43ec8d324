// Package stream fans out event and alert updates to live subscribers.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/ghmonitor/pkg/logger"
)

// Topics flowing through the hub. Subscribers receive both; there is no
// server-side filtering.
const (
	TopicEventUpdate = "event-update"
	TopicAlertUpdate = "alert-update"
)

// Update is one message delivered to a subscriber.
type Update struct {
	Topic string
	Data  interface{}
}

// Subscriber is one live output stream. It receives every published update
// until it is evicted, unsubscribed or times out.
type Subscriber struct {
	ch    chan Update
	timer *time.Timer
	once  sync.Once
}

// Updates returns the subscriber's receive channel. The channel is closed
// when the subscription ends.
func (s *Subscriber) Updates() <-chan Update {
	return s.ch
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.ch)
	})
}

// Hub is a concurrent publish/subscribe registry with best-effort,
// at-most-once delivery per subscriber per publish.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	buffer      int
	idleTimeout time.Duration
	log         zerolog.Logger
}

// NewHub creates a hub. buffer bounds how far a slow subscriber may lag
// before it is evicted; idleTimeout bounds a subscription's lifetime so
// abandoned clients cannot accumulate.
func NewHub(buffer int, idleTimeout time.Duration) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
		idleTimeout: idleTimeout,
		log:         logger.With("stream"),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Update, h.buffer)}
	if h.idleTimeout > 0 {
		sub.timer = time.AfterFunc(h.idleTimeout, func() {
			h.log.Debug().Msg("Subscriber timed out")
			h.Unsubscribe(sub)
		})
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.log.Debug().Int("subscribers", count).Msg("Subscriber registered")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once. The close happens only after removal under the write
// lock, so no in-flight Publish can still send on the channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish fans an update out to every current subscriber. Sends never
// block: a subscriber whose buffer is full is marked for eviction instead
// of delaying the others. The read lock is held across the send loop, so
// Unsubscribe cannot close a channel while it is being sent on; evictions
// wait until the lock is released.
func (h *Hub) Publish(topic string, data interface{}) {
	update := Update{Topic: topic, Data: data}

	h.mu.RLock()
	var stalled []*Subscriber
	for sub := range h.subscribers {
		select {
		case sub.ch <- update:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stalled {
		h.log.Warn().Str("topic", topic).Msg("Evicting stalled subscriber")
		h.Unsubscribe(sub)
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close evicts every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
