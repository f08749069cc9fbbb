package internal

import (
	"context"
	"sync"
)

const (
	QueueCapacity  = 5
	MaxSubscribers = 2
	MaxPublishers  = 2
)

// Broadcast is a bounded fan-out channel. Every subscriber owns a ring of
// Capacity slots addressed by a monotonically increasing sequence number.
// Publishing never blocks: when a subscriber's ring is full the oldest unread
// value is overwritten and the subscriber's lag counter grows by one.
type Broadcast[T any] struct {
	mu          sync.Mutex
	capacity    int
	maxSubs     int
	maxPubs     int
	publishers  int
	subscribers map[*Subscriber[T]]struct{}
	published   uint64
}

type ShapeChannel = Broadcast[Shape]

func NewShapeChannel() *ShapeChannel {
	return NewBroadcast[Shape](QueueCapacity, MaxSubscribers, MaxPublishers)
}

func NewBroadcast[T any](capacity, maxSubscribers, maxPublishers int) *Broadcast[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Broadcast[T]{
		capacity:    capacity,
		maxSubs:     maxSubscribers,
		maxPubs:     maxPublishers,
		subscribers: make(map[*Subscriber[T]]struct{}),
	}
}

type Publisher[T any] struct {
	b      *Broadcast[T]
	closed bool
}

// Publisher returns a send handle or ErrCapacity once maxPublishers are live.
func (b *Broadcast[T]) Publisher() (*Publisher[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishers >= b.maxPubs {
		return nil, ErrCapacity
	}

	b.publishers++
	return &Publisher[T]{b: b}, nil
}

// Publish hands a copy of v to every current subscriber.
func (p *Publisher[T]) Publish(v T) error {
	b := p.b

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	b.published++

	for sub := range b.subscribers {
		sub.push(v)
	}

	return nil
}

func (p *Publisher[T]) Close() {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	p.b.publishers--
}

type Subscriber[T any] struct {
	b      *Broadcast[T]
	ring   []T
	head   uint64 // next sequence to read
	tail   uint64 // next sequence to write
	lag    uint64
	notify chan struct{}
	closed bool
}

// Subscribe returns a receive handle positioned at the next published value,
// or ErrCapacity once maxSubscribers are live.
func (b *Broadcast[T]) Subscribe() (*Subscriber[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.maxSubs {
		return nil, ErrCapacity
	}

	sub := &Subscriber[T]{
		b:      b,
		ring:   make([]T, b.capacity),
		notify: make(chan struct{}, 1),
	}

	b.subscribers[sub] = struct{}{}
	return sub, nil
}

// push is called with b.mu held.
func (s *Subscriber[T]) push(v T) {
	if s.tail-s.head == uint64(len(s.ring)) {
		s.head++
		s.lag++
	}

	s.ring[s.tail%uint64(len(s.ring))] = v
	s.tail++

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a value or a pending lag notice is available. A lag
// notice is delivered once and cleared; it is never combined with a value.
func (s *Subscriber[T]) Next(ctx context.Context) (Message[T], error) {
	for {
		if msg, ok, err := s.TryNext(); err != nil || ok {
			return msg, err
		}

		select {
		case <-ctx.Done():
			return Message[T]{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// TryNext is the non-blocking form of Next.
func (s *Subscriber[T]) TryNext() (Message[T], bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.closed {
		return Message[T]{}, false, ErrClosed
	}

	if s.lag > 0 {
		n := s.lag
		s.lag = 0
		return Message[T]{Lagged: n}, true, nil
	}

	if s.head == s.tail {
		return Message[T]{}, false, nil
	}

	slot := s.head % uint64(len(s.ring))
	v := s.ring[slot]

	var zero T
	s.ring[slot] = zero
	s.head++

	return Message[T]{Value: v}, true, nil
}

// Len reports how many values are waiting for this subscriber.
func (s *Subscriber[T]) Len() int {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	return int(s.tail - s.head)
}

func (s *Subscriber[T]) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	delete(s.b.subscribers, s)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Published returns how many values have been published since creation.
func (b *Broadcast[T]) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.published
}
