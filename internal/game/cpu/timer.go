package cpu

import (
	"sync"
	"time"
)

// TurnTimer fires a callback after a pacing delay unless stopped. It spaces
// out CPU turns so the battle log stays readable. Safe for concurrent use.
type TurnTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTurnTimer creates and starts a timer that calls onFire after delay.
// onFire is called in a separate goroutine.
//
// Precondition: delay > 0; onFire must not be nil.
// Postcondition: Returns a running TurnTimer; onFire will be called unless
// Stop is called first.
func NewTurnTimer(delay time.Duration, onFire func()) *TurnTimer {
	tt := &TurnTimer{}
	tt.timer = time.AfterFunc(delay, func() {
		tt.mu.Lock()
		stopped := tt.stopped
		tt.mu.Unlock()
		if !stopped {
			onFire()
		}
	})
	return tt
}

// Stop prevents the callback from firing. Safe to call multiple times.
//
// Postcondition: onFire will not be called after Stop returns.
func (tt *TurnTimer) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.stopped = true
	tt.timer.Stop()
}
