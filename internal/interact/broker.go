// Package interact lets a command wait for a follow-up chat event (a
// confirmation, a selection) with a timeout.
package interact

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("interaction timed out")

// Event is one inbound user action in a scope.
type Event struct {
	ScopeID string
	UserID  string
	Command string
	Args    string
}

// Predicate selects the events a waiter is interested in.
type Predicate func(Event) bool

type waiter struct {
	match Predicate
	ch    chan Event
}

// Broker hands delivered events to the oldest matching waiter.
type Broker struct {
	mu      sync.Mutex
	waiters []*waiter
}

func NewBroker() *Broker {
	return &Broker{}
}

// Await blocks until an event matching match is delivered, timeout elapses
// (ErrTimeout) or ctx ends.
func (b *Broker) Await(ctx context.Context, match Predicate, timeout time.Duration) (Event, error) {
	w := &waiter{match: match, ch: make(chan Event, 1)}
	b.mu.Lock()
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		if ev, ok := b.cancel(w); ok {
			return ev, nil
		}
		return Event{}, ErrTimeout
	case <-ctx.Done():
		if ev, ok := b.cancel(w); ok {
			return ev, nil
		}
		return Event{}, ctx.Err()
	}
}

// cancel removes w. If an event raced in first it is returned.
func (b *Broker) cancel(w *waiter) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.waiters {
		if cur == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return Event{}, false
		}
	}
	// 既に Deliver 済み
	return <-w.ch, true
}

// Deliver passes ev to the oldest matching waiter and reports whether one
// consumed it.
func (b *Broker) Deliver(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w.match(ev) {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			w.ch <- ev
			return true
		}
	}
	return false
}

// Pending returns the number of registered waiters.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// From matches events from userID in scopeID whose command is one of cmds.
func From(scopeID, userID string, cmds ...string) Predicate {
	return func(ev Event) bool {
		if ev.ScopeID != scopeID || ev.UserID != userID {
			return false
		}
		for _, c := range cmds {
			if ev.Command == c {
				return true
			}
		}
		return false
	}
}
