package auth

import "errors"

var (
	// ErrLoginInProgress: a login is already awaiting its callback. The
	// pending attempt keeps the slot; the caller must cancel it first if
	// a fresh one is wanted. Superseding would invalidate the authorize
	// URL already open in the user's browser.
	ErrLoginInProgress = errors.New("a login is already in progress")

	// ErrNoPendingLogin: a callback arrived with nothing waiting for it.
	ErrNoPendingLogin = errors.New("no login is awaiting a callback")

	// ErrStateMismatch: the callback's state token does not belong to
	// the outstanding session. The wait stays open.
	ErrStateMismatch = errors.New("callback state does not match the pending login")

	// ErrTimeout: the callback window elapsed with no delivery.
	ErrTimeout = errors.New("login timed out waiting for the browser callback")

	// ErrCancelled: the user abandoned the login.
	ErrCancelled = errors.New("login was cancelled")
)

// ProviderError carries an error redirect from the identity provider
// (consent denied, bad request) into the waiting login.
type ProviderError struct {
	Reason string
}

func (e *ProviderError) Error() string {
	if e.Reason == "" {
		return "the identity provider reported an error"
	}
	return e.Reason
}
