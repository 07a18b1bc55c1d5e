package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/types"
)

// ErrRateLimited matches every *RateLimitedError via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// Kind は制限の種類。
type Kind string

const (
	KindTooFrequent Kind = "too_frequent"
	KindRollQuota   Kind = "roll_quota"
)

// RateLimitedError carries how long the caller must wait.
type RateLimitedError struct {
	Kind       Kind
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Kind, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limits は1ウィンドウあたりの上限。
type Limits struct {
	Window     time.Duration
	MaxRolls   int
	MaxClaims  int
	MinBetween time.Duration
}

// DefaultLimits: 10 rolls and 1 claim per hour, 8 s between roll invocations.
var DefaultLimits = Limits{
	Window:     time.Hour,
	MaxRolls:   10,
	MaxClaims:  1,
	MinBetween: 8 * time.Second,
}

// Limiter applies Limits to persisted RollWindows.
type Limiter struct {
	limits Limits
}

func New(limits Limits) *Limiter {
	if limits.Window <= 0 {
		limits.Window = DefaultLimits.Window
	}
	if limits.MaxRolls <= 0 {
		limits.MaxRolls = DefaultLimits.MaxRolls
	}
	if limits.MaxClaims <= 0 {
		limits.MaxClaims = DefaultLimits.MaxClaims
	}
	return &Limiter{limits: limits}
}

// refresh resets w when its window has elapsed.
func (l *Limiter) refresh(w *types.RollWindow, now time.Time) {
	if w.StartedAt.IsZero() || now.Sub(w.StartedAt) >= l.limits.Window {
		*w = types.RollWindow{StartedAt: now}
	}
}

// CheckAndRecordRoll consumes one roll from w or reports when the quota
// frees up. w is left untouched on failure.
func (l *Limiter) CheckAndRecordRoll(w *types.RollWindow, now time.Time) error {
	l.refresh(w, now)
	if w.Rolls >= l.limits.MaxRolls {
		return &RateLimitedError{
			Kind:       KindRollQuota,
			RetryAfter: w.StartedAt.Add(l.limits.Window).Sub(now),
		}
	}
	w.Rolls++
	return nil
}

// CheckClaimEligible reports whether a manual-roll claim is still allowed.
func (l *Limiter) CheckClaimEligible(w types.RollWindow, now time.Time) bool {
	l.refresh(&w, now)
	return w.Claims < l.limits.MaxClaims
}

// RecordClaim consumes one claim from w.
func (l *Limiter) RecordClaim(w *types.RollWindow, now time.Time) {
	l.refresh(w, now)
	w.Claims++
}

// Throttle は連続ロールの最短間隔を (scope, user) ごとに管理する。
type Throttle struct {
	mu         sync.Mutex
	minBetween time.Duration
	last       map[string]time.Time
}

func NewThrottle(minBetween time.Duration) *Throttle {
	return &Throttle{
		minBetween: minBetween,
		last:       make(map[string]time.Time),
	}
}

func throttleKey(scopeID, userID string) string {
	return scopeID + "\x00" + userID
}

// Allow records an invocation for (scopeID, userID) unless the previous one
// was less than minBetween ago.
func (t *Throttle) Allow(scopeID, userID string, now time.Time) error {
	if t.minBetween <= 0 {
		return nil
	}
	key := throttleKey(scopeID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < t.minBetween {
			return &RateLimitedError{Kind: KindTooFrequent, RetryAfter: t.minBetween - elapsed}
		}
	}
	t.last[key] = now
	return nil
}

// Prune drops entries older than minBetween.
func (t *Throttle) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, last := range t.last {
		if now.Sub(last) >= t.minBetween {
			delete(t.last, key)
			removed++
		}
	}
	return removed
}
