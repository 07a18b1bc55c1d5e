package claim

import (
	"context"
	"sync"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// State はクレームウィンドウの状態。Open からは Claimed か Expired のどちらか一方にのみ遷移する。
type State int

const (
	StateOpen State = iota
	StateClaimed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClaimed:
		return "claimed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// EligibilityKind decides who may claim a window.
type EligibilityKind int

const (
	// Anyone: broadcast spawn.
	Anyone EligibilityKind = iota
	// RequesterOnly: manual roll, only the roller may claim.
	RequesterOnly
)

type Eligibility struct {
	Kind        EligibilityKind
	RequesterID string
}

// Allows reports whether userID may claim under e.
func (e Eligibility) Allows(userID string) bool {
	return e.Kind == Anyone || e.RequesterID == userID
}

// Source names the origin of a window for history and events.
func (e Eligibility) Source() string {
	if e.Kind == RequesterOnly {
		return "roll"
	}
	return "spawn"
}

// Window is a pending spawn: one drawn character awaiting a claim.
type Window struct {
	ID          string
	ScopeID     string
	Character   types.CharacterDefinition
	Eligibility Eligibility
	OpenedAt    time.Time
	ExpiresAt   time.Time

	arbiter *Arbiter

	mu       sync.Mutex
	state    State
	claimant string
	done     chan struct{}
}

// Outcome is the terminal result of a window.
type Outcome struct {
	State     State
	Claimant  string
	Character types.CharacterDefinition
}

func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Window) Claimant() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.claimant
}

// Done is closed once the window leaves Open.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

func (w *Window) outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Outcome{State: w.state, Claimant: w.claimant, Character: w.Character}
}

// transition moves an open window to s. Callers hold w.mu.
func (w *Window) transitionLocked(s State, claimant string) bool {
	if w.state != StateOpen {
		return false
	}
	w.state = s
	w.claimant = claimant
	close(w.done)
	return true
}

// Await blocks until the window is claimed or expires. The window expires on
// its own deadline even when no sweeper runs. A cancelled ctx returns the
// current (possibly still open) state and ctx.Err().
func (w *Window) Await(ctx context.Context) (Outcome, error) {
	wait := w.ExpiresAt.Sub(w.arbiter.now())
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		w.arbiter.expire(w)
	case <-ctx.Done():
		return w.outcome(), ctx.Err()
	}
	return w.outcome(), nil
}
