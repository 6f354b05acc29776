package preview

import "sync"

// Broadcast is a bounded, multi-consumer, lossy fan-out channel. The Go
// standard library has no equivalent of tokio::sync::broadcast; this hub
// is modeled on the teacher's sseHub (cmd/dang/render_debug.go), which
// fans JSONL log lines out to every connected browser the same way this
// type fans render triggers and position events out to every viewer.
//
// A subscriber that falls behind never blocks the publisher: messages
// published while its buffer is full are dropped, and once Recv has
// delivered the messages already buffered it observes Lagged, the
// lossy-broadcast analogue of tokio::sync::broadcast::error::RecvError::Lagged.
type Broadcast[T any] struct {
	mu   sync.Mutex
	subs map[*subscription[T]]struct{}
	cap  int
}

type subscription[T any] struct {
	ch     chan T
	lagged chan struct{}
}

// Received is one value pulled off a Subscriber: either a delivered
// message, or a notification that messages were dropped before this one
// because the subscriber's buffer was full.
type Received[T any] struct {
	Value  T
	Lagged bool
	Closed bool
}

// Subscriber is a single consumer's view of a Broadcast.
type Subscriber[T any] struct {
	sub *subscription[T]
	b   *Broadcast[T]
}

// NewBroadcast creates a broadcast hub whose per-subscriber buffer holds
// cap messages before it starts dropping for that subscriber.
func NewBroadcast[T any](cap int) *Broadcast[T] {
	if cap < 1 {
		cap = 1
	}
	return &Broadcast[T]{
		subs: make(map[*subscription[T]]struct{}),
		cap:  cap,
	}
}

// Subscribe registers a new consumer. Callers must call Unsubscribe (or
// Close the Subscriber) when done to avoid leaking the hub-side entry.
func (b *Broadcast[T]) Subscribe() *Subscriber[T] {
	s := &subscription[T]{
		ch:     make(chan T, b.cap),
		lagged: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return &Subscriber[T]{sub: s, b: b}
}

// Publish fans msg out to every current subscriber. A subscriber whose
// buffer is full is marked lagged instead of blocking the publisher —
// this is what keeps the Compiler Supervisor and Webview Actors from ever
// stalling on a slow Render Actor (§5).
func (b *Broadcast[T]) Publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- msg:
		default:
			select {
			case s.lagged <- struct{}{}:
			default:
			}
		}
	}
}

// Recv blocks until a message, a lag notification, or hub shutdown. Closed
// is set once the subscriber has been closed and no further values will
// ever arrive. Buffered messages are delivered before a pending lag
// notification.
func (s *Subscriber[T]) Recv() Received[T] {
	select {
	case v, ok := <-s.sub.ch:
		if !ok {
			return Received[T]{Closed: true}
		}
		return Received[T]{Value: v}
	default:
	}
	select {
	case v, ok := <-s.sub.ch:
		if !ok {
			return Received[T]{Closed: true}
		}
		return Received[T]{Value: v}
	case <-s.sub.lagged:
		return Received[T]{Lagged: true}
	}
}

// TryRecv performs a single non-blocking drain step, used by the
// coalescing actors (§4.2, §4.3) to empty the channel between cycles.
// ok is false when nothing was immediately available.
func (s *Subscriber[T]) TryRecv() (Received[T], bool) {
	select {
	case v, ok := <-s.sub.ch:
		if !ok {
			return Received[T]{Closed: true}, true
		}
		return Received[T]{Value: v}, true
	case <-s.sub.lagged:
		return Received[T]{Lagged: true}, true
	default:
		return Received[T]{}, false
	}
}

// Close unsubscribes s from its hub. Safe to call more than once.
func (s *Subscriber[T]) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s.sub]; ok {
		delete(s.b.subs, s.sub)
		close(s.sub.ch)
	}
}
