package claim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

var (
	ErrWindowClosed       = errors.New("claim window closed")
	ErrNotEligible        = errors.New("not eligible to claim")
	ErrClaimQuotaExceeded = errors.New("claim quota exceeded")
)

// ScopeLocker serializes access to one scope's state. The sweeper takes the
// scope lock before touching a window, so lock order is scope then arbiter.
type ScopeLocker interface {
	LockScope(scopeID string) (unlock func())
}

// QuotaCheck is consulted for requester-only windows just before commit.
type QuotaCheck func() bool

// Arbiter owns every pending spawn and decides claim races.
type Arbiter struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time

	hookMu   sync.RWMutex
	onExpire func(*Window)
}

func NewArbiter(clock func() time.Time) *Arbiter {
	if clock == nil {
		clock = time.Now
	}
	return &Arbiter{
		windows: make(map[string]*Window),
		now:     clock,
	}
}

// OnExpire registers fn to be called (outside all locks) after a window expires.
func (a *Arbiter) OnExpire(fn func(*Window)) {
	a.hookMu.Lock()
	a.onExpire = fn
	a.hookMu.Unlock()
}

// Open registers a new window for def. Callers hold the scope lock so the
// draw that produced def and the hold it places are atomic.
func (a *Arbiter) Open(scopeID string, def types.CharacterDefinition, duration time.Duration, eligibility Eligibility) (*Window, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate spawn id: %w", err)
	}

	now := a.now()
	w := &Window{
		ID:          id,
		ScopeID:     scopeID,
		Character:   def,
		Eligibility: eligibility,
		OpenedAt:    now,
		ExpiresAt:   now.Add(duration),
		arbiter:     a,
		state:       StateOpen,
		done:        make(chan struct{}),
	}

	a.mu.Lock()
	a.windows[id] = w
	a.mu.Unlock()

	logger.Debug("Claim window opened",
		zap.String("scope_id", scopeID),
		zap.String("spawn_id", id),
		zap.String("character", def.Name),
		zap.String("source", eligibility.Source()),
		zap.Time("expires_at", w.ExpiresAt))
	return w, nil
}

// Attempt tries to claim spawnID for userID. It must be called with the
// scope lock held; on success the claim registry in state is updated and
// the window is closed. A quota refusal leaves the window open.
func (a *Arbiter) Attempt(state *types.ScopeState, scopeID, spawnID, userID string, quota QuotaCheck) (*Window, error) {
	a.mu.Lock()
	w, ok := a.windows[spawnID]
	a.mu.Unlock()
	if !ok || w.ScopeID != scopeID {
		return nil, ErrWindowClosed
	}

	w.mu.Lock()
	if w.state != StateOpen {
		w.mu.Unlock()
		return nil, ErrWindowClosed
	}
	if !w.Eligibility.Allows(userID) {
		w.mu.Unlock()
		return nil, ErrNotEligible
	}
	if !a.now().Before(w.ExpiresAt) {
		w.transitionLocked(StateExpired, "")
		w.mu.Unlock()
		a.forget(w)
		a.fireExpire(w)
		return nil, ErrWindowClosed
	}
	if state.IsClaimed(w.Character.Name) {
		// 同名キャラが別経路で登録済み
		w.transitionLocked(StateExpired, "")
		w.mu.Unlock()
		a.forget(w)
		a.fireExpire(w)
		return nil, ErrWindowClosed
	}
	if w.Eligibility.Kind == RequesterOnly && quota != nil && !quota() {
		w.mu.Unlock()
		return nil, ErrClaimQuotaExceeded
	}

	w.transitionLocked(StateClaimed, userID)
	w.mu.Unlock()
	a.forget(w)

	state.Claims[w.Character.Key()] = userID
	return w, nil
}

func (a *Arbiter) forget(w *Window) {
	a.mu.Lock()
	if cur, ok := a.windows[w.ID]; ok && cur == w {
		delete(a.windows, w.ID)
	}
	a.mu.Unlock()
}

func (a *Arbiter) expire(w *Window) bool {
	w.mu.Lock()
	changed := w.transitionLocked(StateExpired, "")
	w.mu.Unlock()
	if !changed {
		return false
	}
	a.forget(w)
	a.fireExpire(w)
	return true
}

func (a *Arbiter) fireExpire(w *Window) {
	logger.Debug("Claim window expired",
		zap.String("scope_id", w.ScopeID),
		zap.String("spawn_id", w.ID),
		zap.String("character", w.Character.Name))

	a.hookMu.RLock()
	fn := a.onExpire
	a.hookMu.RUnlock()
	if fn != nil {
		fn(w)
	}
}

// Held returns the name keys reserved by open, unexpired windows in scopeID.
func (a *Arbiter) Held(scopeID string) map[string]struct{} {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	held := make(map[string]struct{})
	for _, w := range a.windows {
		if w.ScopeID == scopeID && now.Before(w.ExpiresAt) {
			held[w.Character.Key()] = struct{}{}
		}
	}
	return held
}

// Pending lists open windows of scopeID, oldest first.
func (a *Arbiter) Pending(scopeID string) []*Window {
	a.mu.Lock()
	out := make([]*Window, 0)
	for _, w := range a.windows {
		if w.ScopeID == scopeID {
			out = append(out, w)
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Claimable returns the newest open window in scopeID that userID may claim.
func (a *Arbiter) Claimable(scopeID, userID string) (*Window, bool) {
	pending := a.Pending(scopeID)
	for i := len(pending) - 1; i >= 0; i-- {
		w := pending[i]
		if w.Eligibility.Allows(userID) && a.now().Before(w.ExpiresAt) {
			return w, true
		}
	}
	return nil, false
}

// Sweep expires every open window past its deadline and returns how many
// were expired. Each expiry takes only its own scope lock.
func (a *Arbiter) Sweep(locker ScopeLocker) int {
	now := a.now()

	a.mu.Lock()
	due := make([]*Window, 0)
	for _, w := range a.windows {
		if !now.Before(w.ExpiresAt) {
			due = append(due, w)
		}
	}
	a.mu.Unlock()

	expired := 0
	for _, w := range due {
		unlock := locker.LockScope(w.ScopeID)
		if a.expire(w) {
			expired++
		}
		unlock()
	}

	if expired > 0 {
		logger.Info("Expired stale claim windows", zap.Int("count", expired))
	}
	return expired
}
