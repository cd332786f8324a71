package auth

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockforge/launcher/pkg/callback"
)

// WaitState is the callback waiter's lifecycle position.
type WaitState int

const (
	StateIdle WaitState = iota
	StateAwaiting
	StateResolved
	StateTimedOut
	StateCancelled
)

// WaitResult is what wakes the suspended login: an authorization code or
// the terminal failure (timeout, cancel, provider error).
type WaitResult struct {
	Code string
	Err  error
}

// Waiter is the process-wide single-slot callback primitive. At most one
// login may be awaiting a callback; the timer, the external delivery and
// the user's cancel all race to complete the same one-shot, and whichever
// transition lands first is authoritative.
type Waiter struct {
	mu       sync.Mutex
	state    WaitState
	expected string
	ch       chan WaitResult
	timer    *time.Timer
	logger   zerolog.Logger
}

// NewWaiter creates an idle waiter.
func NewWaiter(logger zerolog.Logger) *Waiter {
	return &Waiter{logger: logger}
}

// BeginWait opens the slot for one login attempt correlated by the given
// state token and arms the timeout. It fails with ErrLoginInProgress
// while a previous wait is still open.
func (w *Waiter) BeginWait(stateToken string, window time.Duration) (<-chan WaitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateAwaiting {
		return nil, ErrLoginInProgress
	}

	w.state = StateAwaiting
	w.expected = stateToken
	w.ch = make(chan WaitResult, 1)
	w.timer = time.AfterFunc(window, w.onTimeout)
	return w.ch, nil
}

// Deliver routes an external callback into the waiting login. A state
// token that does not match the session is rejected and the wait stays
// open; deliveries with nothing pending are no-ops.
func (w *Waiter) Deliver(d callback.Delivery) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaiting {
		w.logger.Debug().Msg("callback delivered with no pending login")
		return ErrNoPendingLogin
	}
	if d.State != w.expected {
		w.logger.Warn().Msg("callback state mismatch, keeping the wait open")
		return ErrStateMismatch
	}
	if d.Failed() {
		w.resolveLocked(StateResolved, WaitResult{Err: &ProviderError{Reason: d.Reason()}})
		return nil
	}
	w.resolveLocked(StateResolved, WaitResult{Code: d.Code})
	return nil
}

// DeliverCode submits a manually entered authorization code. The state
// check is skipped: possession of the code pasted from the user's own
// browser session is the correlation.
func (w *Waiter) DeliverCode(code string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaiting {
		return ErrNoPendingLogin
	}
	w.resolveLocked(StateResolved, WaitResult{Code: code})
	return nil
}

// Cancel aborts the pending wait on behalf of the user. Cancelling with
// nothing pending is a no-op.
func (w *Waiter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaiting {
		return
	}
	w.resolveLocked(StateCancelled, WaitResult{Err: ErrCancelled})
}

// State reports the waiter's current position.
func (w *Waiter) State() WaitState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Waiter) onTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The delivery may have won the race between the timer firing and
	// this callback taking the lock.
	if w.state != StateAwaiting {
		return
	}
	w.logger.Info().Msg("callback window elapsed")
	w.resolveLocked(StateTimedOut, WaitResult{Err: ErrTimeout})
}

// resolveLocked performs the single terminal transition: stop the timer,
// record the state, wake the waiter exactly once. Callers hold w.mu and
// have verified the wait is still open.
func (w *Waiter) resolveLocked(terminal WaitState, res WaitResult) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.state = terminal
	w.expected = ""
	w.ch <- res
	w.ch = nil
}
