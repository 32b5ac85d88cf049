package events

import (
	"sort"
	"sync"
)

// Bus fans values out to in-process observers. Subscriptions are explicit: every Subscribe
// returns the function that ends it, and owners call it when they are torn down.
type Bus[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	observers map[uint64]func(T)
}

// NewBus constructs an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{observers: make(map[uint64]func(T))}
}

// Subscribe registers observer and returns its unsubscribe function. Calling the returned
// function more than once is safe.
func (b *Bus[T]) Subscribe(observer func(T)) (unsubscribe func()) {
	if b == nil || observer == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers[id] = observer
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers value to every observer in subscription order. Observers run on the
// publishing goroutine and must not block.
func (b *Bus[T]) Publish(value T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, b.observers[id])
	}
	b.mu.RUnlock()
	for _, observer := range observers {
		observer(value)
	}
}

// Len reports the number of live subscriptions.
func (b *Bus[T]) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
