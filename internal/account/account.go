// Package account holds the launcher's persisted identity records and
// the durable store backing them.
package account

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates account variants.
type Kind string

const (
	// KindOffline accounts carry no token material and are freely
	// renamable.
	KindOffline Kind = "offline"
	// KindMicrosoft accounts were produced by the token chain and carry
	// game-service access plus identity refresh tokens.
	KindMicrosoft Kind = "microsoft"
)

// Username length bounds enforced by the game service.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 16
)

var (
	ErrUsernameTooShort = errors.New("username must be at least 3 characters")
	ErrUsernameTooLong  = errors.New("username must be at most 16 characters")
	ErrNotOffline       = errors.New("only offline accounts can be modified")
	ErrNotMicrosoft     = errors.New("account is not a Microsoft account")
)

// Account is one persisted identity. Field names mirror the accounts.json
// document; this is the single canonical casing at every boundary.
type Account struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"type"`
	Username string `json:"username"`
	UUID     string `json:"uuid"`

	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`

	// Skin is a local file path for offline accounts or a remote texture
	// URL for Microsoft accounts; empty means the default model skin.
	Skin string `json:"skin,omitempty"`

	// ExpiresAt is when the game-service access token lapses; zero for
	// offline accounts and for tokens whose expiry could not be read.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// CreatedAt is set once at creation, in Unix milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// expiryBuffer refreshes tokens slightly early so a launch that follows
// the check does not race the real expiry.
const expiryBuffer = 5 * time.Minute

// NeedsRefresh reports whether the account's game token is (nearly)
// expired. Offline accounts never need a refresh; a Microsoft account
// with unknown expiry is treated as stale.
func (a *Account) NeedsRefresh(now time.Time) bool {
	if a.Kind != KindMicrosoft {
		return false
	}
	if a.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(expiryBuffer).After(a.ExpiresAt)
}

// ValidateUsername checks the 3-16 character bound on a trimmed name.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < MinUsernameLen {
		return "", ErrUsernameTooShort
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// NewOffline creates an offline account with a random dashless id.
func NewOffline(username string) (*Account, error) {
	name, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Account{
		ID:        id,
		Kind:      KindOffline,
		Username:  name,
		UUID:      id,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}
