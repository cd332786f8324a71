// Package auth owns the launcher's authentication flows: the login
// sequence from browser hand-off through the token chain, refresh,
// manual callback entry, and all account mutations.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockforge/launcher/internal/account"
	"github.com/blockforge/launcher/internal/auth/msa"
	"github.com/blockforge/launcher/pkg/callback"
)

// BrowserOpener hands an authorize URL to the system browser. Injected
// so tests never open anything.
type BrowserOpener func(url string) error

// AvatarExtractor is the optional image-processing capability. A nil
// extractor is a valid configuration; the login flow skips it.
type AvatarExtractor interface {
	Extract(ctx context.Context, skinRef, accountID string) (string, error)
	CachePath(accountID string) string
	Fallback() string
}

// Service is the single owner of the account store and the at-most-one
// pending login session.
type Service struct {
	store   *account.Store
	chain   *msa.Chain
	waiter  *Waiter
	avatars AvatarExtractor
	open    BrowserOpener

	skinsDir string
	window   time.Duration
	logger   zerolog.Logger
}

// Options configures optional collaborators.
type Options struct {
	Avatars     AvatarExtractor
	OpenBrowser BrowserOpener
	// CallbackWindow bounds the wait for the browser redirect.
	CallbackWindow time.Duration
	// SkinsDir receives copies of offline accounts' local skin files.
	SkinsDir string
}

// NewService wires the authentication service.
func NewService(store *account.Store, chain *msa.Chain, opts Options, logger zerolog.Logger) *Service {
	if opts.CallbackWindow <= 0 {
		opts.CallbackWindow = 300 * time.Second
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = func(string) error { return nil }
	}
	return &Service{
		store:    store,
		chain:    chain,
		waiter:   NewWaiter(logger),
		avatars:  opts.Avatars,
		open:     opts.OpenBrowser,
		skinsDir: opts.SkinsDir,
		window:   opts.CallbackWindow,
		logger:   logger,
	}
}

// Store exposes the account store for read-side callers.
func (s *Service) Store() *account.Store { return s.store }

// newStateToken mints the random correlation token embedded in the
// authorize URL and required back from the callback.
func newStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Login runs one interactive sign-in: open the provider's authorize page
// in the browser, suspend until the redirect (or manual entry) delivers
// the code, then run the exchange chain and persist the account. Fails
// with ErrLoginInProgress while another attempt is pending.
func (s *Service) Login(ctx context.Context) (*account.Account, error) {
	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	ch, err := s.waiter.BeginWait(state, s.window)
	if err != nil {
		return nil, err
	}

	authURL := s.chain.AuthCodeURL(state)
	s.logger.Info().Msg("opening browser for sign-in")
	if err := s.open(authURL); err != nil {
		s.waiter.Cancel()
		<-ch
		return nil, fmt.Errorf("open browser: %w", err)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return s.CompleteAuthentication(ctx, res.Code)
	case <-ctx.Done():
		s.waiter.Cancel()
		<-ch
		return nil, ctx.Err()
	}
}

// SessionState reports the pending login's lifecycle position.
func (s *Service) SessionState() WaitState { return s.waiter.State() }

// HandleCallbackURL routes a redirect URL (deep link or loopback
// capture) into the pending login.
func (s *Service) HandleCallbackURL(raw string) error {
	d, err := callback.ParseURL(raw)
	if err != nil {
		return err
	}
	return s.waiter.Deliver(d)
}

// SubmitManual accepts text the user pasted: a full redirect URL or a
// bare authorization code. An empty submission is the dialog's cancel.
func (s *Service) SubmitManual(raw string) error {
	if raw == "" {
		s.waiter.Cancel()
		return nil
	}
	if d, err := callback.ParseURL(raw); err == nil && d.State != "" {
		return s.waiter.Deliver(d)
	}
	code, err := callback.ExtractCode(raw)
	if err != nil {
		return err
	}
	return s.waiter.DeliverCode(code)
}

// Cancel aborts a pending login on the user's behalf.
func (s *Service) Cancel() { s.waiter.Cancel() }

// CompleteAuthentication exchanges an authorization code through the
// four-hop chain and upserts the resulting account as current.
func (s *Service) CompleteAuthentication(ctx context.Context, code string) (*account.Account, error) {
	res, err := s.chain.Complete(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.adoptChainResult(ctx, res)
}

// Refresh re-runs the chain from the account's stored refresh token.
// Offline accounts cannot be refreshed.
func (s *Service) Refresh(ctx context.Context, accountID string) (*account.Account, error) {
	acct, err := s.store.Get(accountID)
	if err != nil {
		return nil, err
	}
	if acct.Kind != account.KindMicrosoft {
		return nil, account.ErrNotMicrosoft
	}

	res, err := s.chain.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		return nil, err
	}
	return s.adoptChainResult(ctx, res)
}

func (s *Service) adoptChainResult(ctx context.Context, res *msa.Result) (*account.Account, error) {
	now := time.Now()
	acct := &account.Account{
		ID:           res.Profile.ID,
		Kind:         account.KindMicrosoft,
		Username:     res.Profile.Name,
		UUID:         res.Profile.ID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Skin:         res.Profile.SkinURL,
		ExpiresAt:    res.ExpiresAt,
		CreatedAt:    now.UnixMilli(),
	}
	// A re-login with the same identity keeps its original creation time.
	if prev, err := s.store.Get(acct.ID); err == nil {
		acct.CreatedAt = prev.CreatedAt
	}

	s.store.Upsert(acct)
	if err := s.store.SetCurrent(acct.ID); err != nil {
		return nil, err
	}
	if err := s.store.Save(); err != nil {
		s.logger.Error().Err(err).Msg("account store save failed after login")
	}

	if s.avatars != nil && acct.Skin != "" {
		go func(skin, id string) {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			defer cancel()
			s.avatars.Extract(bg, skin, id)
		}(acct.Skin, acct.ID)
	}

	s.logger.Info().Str("account", acct.Username).Msg("signed in")
	return acct, nil
}

// AddOffline creates an offline account. The first account added becomes
// current.
func (s *Service) AddOffline(username string) (*account.Account, error) {
	acct, err := account.NewOffline(username)
	if err != nil {
		return nil, err
	}
	s.store.Upsert(acct)
	s.store.SetCurrentIfUnset(acct.ID)
	if err := s.store.Save(); err != nil {
		return nil, err
	}
	return acct, nil
}

// Remove deletes an account and persists the store.
func (s *Service) Remove(accountID string) error {
	if err := s.store.Remove(accountID); err != nil {
		return err
	}
	return s.store.Save()
}

// Switch points the current pointer at an existing account.
func (s *Service) Switch(accountID string) error {
	if err := s.store.SetCurrent(accountID); err != nil {
		return err
	}
	return s.store.Save()
}

// Rename changes an offline account's username. Networked names belong
// to the provider.
func (s *Service) Rename(accountID, username string) error {
	name, err := account.ValidateUsername(username)
	if err != nil {
		return err
	}
	acct, err := s.store.Get(accountID)
	if err != nil {
		return err
	}
	if acct.Kind != account.KindOffline {
		return account.ErrNotOffline
	}
	if err := s.store.Update(accountID, func(a *account.Account) { a.Username = name }); err != nil {
		return err
	}
	return s.store.Save()
}

// SetOfflineSkin copies a local skin file into the skins directory,
// records it on the account, and refreshes the cached avatar.
func (s *Service) SetOfflineSkin(ctx context.Context, accountID, skinPath string) (string, error) {
	acct, err := s.store.Get(accountID)
	if err != nil {
		return "", err
	}
	if acct.Kind != account.KindOffline {
		return "", account.ErrNotOffline
	}

	dest := filepath.Join(s.skinsDir, accountID+".png")
	if err := copyFile(skinPath, dest); err != nil {
		return "", fmt.Errorf("copy skin: %w", err)
	}
	if err := s.store.Update(accountID, func(a *account.Account) { a.Skin = dest }); err != nil {
		return "", err
	}
	if err := s.store.Save(); err != nil {
		return "", err
	}

	if s.avatars != nil {
		s.avatars.Extract(ctx, dest, accountID)
	}
	return dest, nil
}

// Avatar returns the cached avatar path for an account, extracting it
// when missing. Remote skins are always re-extracted since the texture
// behind the URL can change.
func (s *Service) Avatar(ctx context.Context, accountID string) string {
	if s.avatars == nil {
		return ""
	}
	acct, err := s.store.Get(accountID)
	if err != nil {
		return s.avatars.Fallback()
	}

	cached := s.avatars.CachePath(accountID)
	_, statErr := os.Stat(cached)
	remote := strings.HasPrefix(acct.Skin, "http")
	if statErr == nil && !remote {
		return cached
	}
	if acct.Skin == "" {
		if statErr == nil {
			return cached
		}
		return s.avatars.Fallback()
	}
	path, _ := s.avatars.Extract(ctx, acct.Skin, accountID)
	return path
}

// RefreshAvatar drops the cached avatar and re-extracts it.
func (s *Service) RefreshAvatar(ctx context.Context, accountID string) string {
	if s.avatars == nil {
		return ""
	}
	os.Remove(s.avatars.CachePath(accountID))

	acct, err := s.store.Get(accountID)
	if err != nil || acct.Skin == "" {
		return s.avatars.Fallback()
	}
	path, _ := s.avatars.Extract(ctx, acct.Skin, accountID)
	return path
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
