package interviewroom

import "sync"

// listeners is an ordered subscriber set. Callbacks run outside the lock,
// in registration order.
type listeners[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, s := range subs {
		s.fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = nil
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
