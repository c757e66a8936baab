package store

import (
	"sync"
)

// CallbackList is a registration list safe for concurrent add/remove/get.
type CallbackList[T any] struct {
	mu        sync.Mutex
	nextId    int
	callbacks map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{callbacks: map[int]T{}}
}

func (l *CallbackList[T]) Add(callback T) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextId
	l.nextId++
	l.callbacks[id] = callback
	return id
}

func (l *CallbackList[T]) Remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callbacks, id)
}

func (l *CallbackList[T]) Get() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.callbacks))
	for _, c := range l.callbacks {
		out = append(out, c)
	}
	return out
}
