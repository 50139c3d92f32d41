// Package fanout implements a small restartable broadcast primitive: one
// producer, many independent consumers, each with its own bounded channel.
// It backs both the state store's SnapshotDelta subscription and the
// Snapcast client's event stream — both need "lazy, restartable" streams,
// and both must never let a slow subscriber stall the producer.
package fanout

import "sync"

// Broadcaster fans values of type T out to any number of subscribers.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	subs     map[int]chan T
	nextID   int
	bufSize  int
	onDropped func(T)
}

// New creates a Broadcaster whose subscriber channels are buffered to
// bufSize. onDropped, if non-nil, is called (on the producer goroutine)
// whenever a full subscriber channel causes a value to be dropped for that
// subscriber — callers typically use it to log a warning.
func New[T any](bufSize int, onDropped func(T)) *Broadcaster[T] {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Broadcaster[T]{
		subs:      make(map[int]chan T),
		bufSize:   bufSize,
		onDropped: onDropped,
	}
}

// Subscribe registers a new consumer and returns its channel plus a cancel
// function that must be called when the consumer is done reading.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, b.bufSize)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers v to every current subscriber without blocking. A
// subscriber whose buffer is full has this value dropped for it; the
// producer never waits.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			if b.onDropped != nil {
				b.onDropped(v)
			}
		}
	}
}

// Close closes every subscriber channel and removes them. Safe to call
// once the producer is done for good.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
