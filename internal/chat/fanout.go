package chat

import (
	"sync"

	"palaver/internal/models"
)

const subscriberBuffer = 64

type subscriber struct {
	ch   chan models.Message
	done chan struct{}
	once sync.Once
}

func (s *subscriber) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Broadcaster redistributes the inbound message stream to all current
// subscribers: one producer, arbitrarily many consumers. Delivery keeps
// wire arrival order and there is no replay; a subscriber only sees
// messages published after it subscribed. A subscriber that stops
// draining blocks the publisher until it cancels.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]*subscriber),
	}
}

// Subscribe registers a consumer. The returned cancel func detaches it;
// the message channel is never closed, consumers stop reading instead.
func (b *Broadcaster) Subscribe() (<-chan models.Message, func()) {
	sub := &subscriber{
		ch:   make(chan models.Message, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.cancel()
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		sub.cancel()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers msg to every current subscriber. Messages are
// passed through untransformed; per-subscriber order is publish order.
func (b *Broadcaster) Publish(msg models.Message) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
}

// Close detaches all subscribers and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	for id, sub := range b.subs {
		sub.cancel()
		delete(b.subs, id)
	}
	b.mu.Unlock()
}
