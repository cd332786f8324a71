package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// ErrAccountNotFound is returned for operations naming an unknown id.
var ErrAccountNotFound = errors.New("account not found")

// document is the on-disk shape of the store.
type document struct {
	Accounts       []*Account `json:"accounts"`
	CurrentAccount string     `json:"currentAccount,omitempty"`
}

// Store keeps the account list plus current pointer in memory and
// persists them to a single JSON file. All methods are safe for
// concurrent use; multi-step flows (refresh then remove) are still the
// caller's to sequence.
type Store struct {
	mu      sync.RWMutex
	path    string
	logger  zerolog.Logger
	list    []*Account
	current string
}

// NewStore creates a store persisting to path. Call Load before use.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load populates the store from disk. A missing or corrupt file starts
// the store empty rather than failing launcher startup.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = nil
	s.current = ""

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to read accounts file, starting empty")
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("corrupt accounts file, starting empty")
		return
	}

	s.list = doc.Accounts
	s.current = doc.CurrentAccount
	// Heal a dangling current pointer left by an earlier crash.
	if s.current != "" && s.find(s.current) == nil {
		if len(s.list) > 0 {
			s.current = s.list[0].ID
		} else {
			s.current = ""
		}
	}
}

// Save writes the full list plus current pointer atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := document{Accounts: s.list, CurrentAccount: s.current}
	data, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	return nil
}

// List returns a snapshot of all accounts.
func (s *Store) List() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, len(s.list))
	for i, a := range s.list {
		cp := *a
		out[i] = &cp
	}
	return out
}

// Get returns the account with the given id.
func (s *Store) Get(id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.find(id); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAccountNotFound
}

// Current returns the current account, or nil when none is selected.
func (s *Store) Current() *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.find(s.current); a != nil {
		cp := *a
		return &cp
	}
	return nil
}

// CurrentID returns the current pointer, empty when unset.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Upsert replaces the account with the same id or appends a new one.
// A re-login with the same identity replaces, never duplicates.
func (s *Store) Upsert(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	for i, existing := range s.list {
		if existing.ID == cp.ID {
			s.list[i] = &cp
			return
		}
	}
	s.list = append(s.list, &cp)
}

// Remove deletes the account with the given id. When the removed account
// was current, the pointer moves to the first remaining account, or
// clears when none remain. Removing an unknown id reports
// ErrAccountNotFound and changes nothing.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, a := range s.list {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrAccountNotFound
	}
	s.list = append(s.list[:idx], s.list[idx+1:]...)
	if s.current == id {
		if len(s.list) > 0 {
			s.current = s.list[0].ID
		} else {
			s.current = ""
		}
	}
	return nil
}

// SetCurrent points the store at an existing account.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) == nil {
		return ErrAccountNotFound
	}
	s.current = id
	return nil
}

// SetCurrentIfUnset selects id only when no current account exists yet.
func (s *Store) SetCurrentIfUnset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" && s.find(id) != nil {
		s.current = id
	}
}

// Update applies fn to the stored account with the given id.
func (s *Store) Update(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.find(id)
	if a == nil {
		return ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (s *Store) find(id string) *Account {
	if id == "" {
		return nil
	}
	for _, a := range s.list {
		if a.ID == id {
			return a
		}
	}
	return nil
}
