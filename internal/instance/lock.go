// Package instance guarantees one launcher process owns the callback
// channel: an advisory file lock decides ownership, and a loopback HTTP
// listener receives both OAuth redirects and argument forwards from
// second launch attempts.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is the process-wide single-instance lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire tries to take the single-instance lock. acquired=false means
// another launcher already owns the callback channel; the caller should
// forward its arguments there and exit.
func Acquire(path string) (lock *Lock, acquired bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{fl: fl}, true, nil
}

// Release gives the lock up on shutdown.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
