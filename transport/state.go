package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// StateListener observes state transitions.
type StateListener func(from, to ConnectionState)

// stateSignal holds the current state and wakes waiters on every change.
// Listeners run on the goroutine performing the transition, after the lock
// is released, so they may call back into the session.
type stateSignal struct {
	mu        sync.Mutex
	state     ConnectionState
	changed   chan struct{}
	listeners map[uint64]StateListener
	nextID    uint64
}

func newStateSignal() *stateSignal {
	return &stateSignal{
		changed:   make(chan struct{}),
		listeners: make(map[uint64]StateListener),
	}
}

func (s *stateSignal) get() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stateSignal) set(to ConnectionState) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]StateListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(from, to)
	}
}

func (s *stateSignal) waitFor(ctx context.Context, target ConnectionState) error {
	for {
		s.mu.Lock()
		state, ch := s.state, s.changed
		s.mu.Unlock()
		if state == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *stateSignal) notify(fn StateListener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
