// Package controlplane mirrors per-worker stats reported from the data
// plane (BrokerView, StateManager) and the generic observer/event-bus
// plumbing the controller subscribes through. Grounded on
// control/internal/interfaces/observer.go (Observer[T]/Subject[T]) and
// control/internal/registry/worker_registry.go's notify-via-goroutine
// fan-out.
package controlplane

import "sync"

// Observer is notified of events of type T.
type Observer[T any] interface {
	OnEvent(event T)
}

// Subject is an observable stream of events of type T.
type Subject[T any] interface {
	Subscribe(observer Observer[T])
	Unsubscribe(observer Observer[T])
	NotifyObservers(event T)
}

// Bus is a generic, goroutine-safe Subject[T] implementation — adapted
// directly from workerRegistryImpl's observer slice, generalized from one
// concrete event type to any.
type Bus[T any] struct {
	mu        sync.RWMutex
	observers []Observer[T]
}

// NewBus constructs an empty event bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

func (b *Bus[T]) Subscribe(observer Observer[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, observer)
}

func (b *Bus[T]) Unsubscribe(observer Observer[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.observers {
		if o == observer {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *Bus[T]) NotifyObservers(event T) {
	b.mu.RLock()
	observers := make([]Observer[T], len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		go o.OnEvent(event)
	}
}

// ObserverFunc adapts a plain function to Observer[T].
type ObserverFunc[T any] func(T)

func (f ObserverFunc[T]) OnEvent(event T) { f(event) }
