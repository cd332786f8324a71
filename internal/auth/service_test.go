package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforge/launcher/internal/account"
	"github.com/blockforge/launcher/internal/auth/msa"
	"github.com/blockforge/launcher/pkg/http/exchange"
)

// fakeChainServer hosts every provider endpoint the chain touches.
func fakeChainServer(t *testing.T, profileID, profileName string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "identity-at", "refresh_token": "identity-rt", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/xbl", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Token":"xbl","DisplayClaims":{"xui":[{"uhs":"uh"}]}}`))
	})
	mux.HandleFunc("/xsts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Token":"xsts","DisplayClaims":{"xui":[{"uhs":"uh"}]}}`))
	})
	mux.HandleFunc("/game", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "game-token", "expires_in": 86400})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": profileID, "name": profileName,
			"skins": []map[string]string{},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	svc   *Service
	store *account.Store

	mu       sync.Mutex
	authURLs []string
}

func (h *harness) lastAuthURL(t *testing.T) string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.authURLs)
	return h.authURLs[len(h.authURLs)-1]
}

func newHarness(t *testing.T, srv *httptest.Server) *harness {
	t.Helper()
	store := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"), zerolog.Nop())
	store.Load()

	client := exchange.New(5*time.Second, zerolog.Nop())
	chain := msa.New("client-1", "https://login.example/desktop", msa.Endpoints{
		AuthorizeURL:     srv.URL + "/authorize",
		TokenURL:         srv.URL + "/token",
		NetworkAuthURL:   srv.URL + "/xbl",
		SecurityTokenURL: srv.URL + "/xsts",
		GameTokenURL:     srv.URL + "/game",
		ProfileURL:       srv.URL + "/profile",
	}, client, 5*time.Second, zerolog.Nop())

	h := &harness{store: store}
	h.svc = NewService(store, chain, Options{
		CallbackWindow: 5 * time.Second,
		SkinsDir:       t.TempDir(),
		OpenBrowser: func(u string) error {
			h.mu.Lock()
			h.authURLs = append(h.authURLs, u)
			h.mu.Unlock()
			return nil
		},
	}, zerolog.Nop())
	return h
}

// stateFrom pulls the session's state token back out of the authorize URL.
func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestLogin_EndToEnd(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	done := make(chan struct{})
	var acct *account.Account
	var loginErr error
	go func() {
		defer close(done)
		acct, loginErr = h.svc.Login(context.Background())
	}()

	// Wait for the browser hand-off, then play the redirect back.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.authURLs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	state := stateFrom(t, h.lastAuthURL(t))
	require.NoError(t, h.svc.HandleCallbackURL(
		"blockforge://auth/callback?code=good-code&state="+state))

	<-done
	require.NoError(t, loginErr)
	assert.Equal(t, "prof-1", acct.ID)
	assert.Equal(t, account.KindMicrosoft, acct.Kind)
	assert.Equal(t, "game-token", acct.AccessToken)
	assert.Equal(t, "identity-rt", acct.RefreshToken)

	// Store holds exactly one entry and it is current.
	assert.Len(t, h.store.List(), 1)
	assert.Equal(t, "prof-1", h.store.CurrentID())
}

func TestLogin_SameProfileReplacesEntry(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	_, err := h.svc.CompleteAuthentication(context.Background(), "code-a")
	require.NoError(t, err)
	_, err = h.svc.CompleteAuthentication(context.Background(), "code-b")
	require.NoError(t, err)

	assert.Len(t, h.store.List(), 1, "re-login with the same identity must not duplicate")
}

func TestLogin_SecondAttemptWhilePendingRejected(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	go h.svc.Login(context.Background())
	require.Eventually(t, func() bool {
		return h.svc.SessionState() == StateAwaiting
	}, 2*time.Second, 10*time.Millisecond)

	_, err := h.svc.Login(context.Background())
	assert.ErrorIs(t, err, ErrLoginInProgress)

	h.svc.Cancel()
}

func TestLogin_CancelledByUser(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Login(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.svc.SessionState() == StateAwaiting
	}, 2*time.Second, 10*time.Millisecond)

	h.svc.Cancel()
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Empty(t, h.store.List())
}

func TestSubmitManual_BareCode(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Login(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.svc.SessionState() == StateAwaiting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.svc.SubmitManual("M.C07_pasted.by.the.user"))
	require.NoError(t, <-done)
	assert.Equal(t, "prof-1", h.store.CurrentID())
}

func TestSubmitManual_EmptyCancels(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Login(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.svc.SessionState() == StateAwaiting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.svc.SubmitManual(""))
	assert.ErrorIs(t, <-done, ErrCancelled)
}

func TestRefresh_OfflineAccountRejected(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))
	acct, err := h.svc.AddOffline("Steve")
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), acct.ID)
	assert.ErrorIs(t, err, account.ErrNotMicrosoft)
}

func TestRefresh_ReplacesTokens(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))
	seed := &account.Account{
		ID: "prof-1", Kind: account.KindMicrosoft, Username: "Old",
		UUID: "prof-1", RefreshToken: "identity-rt", CreatedAt: 42,
	}
	h.store.Upsert(seed)

	got, err := h.svc.Refresh(context.Background(), "prof-1")
	require.NoError(t, err)
	assert.Equal(t, "Player", got.Username)
	assert.Equal(t, "game-token", got.AccessToken)
	assert.EqualValues(t, 42, got.CreatedAt, "refresh keeps the original creation time")
}

func TestAddOffline_FirstBecomesCurrent(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))

	_, err := h.svc.AddOffline("Ab")
	assert.ErrorIs(t, err, account.ErrUsernameTooShort)
	assert.Empty(t, h.store.CurrentID())

	a, err := h.svc.AddOffline("Abc")
	require.NoError(t, err)
	assert.Equal(t, a.ID, h.store.CurrentID())

	b, err := h.svc.AddOffline("Delta")
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, h.store.CurrentID(), "later adds do not steal current")
}

func TestRename_OfflineOnly(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))
	off, err := h.svc.AddOffline("Steve")
	require.NoError(t, err)

	require.NoError(t, h.svc.Rename(off.ID, "Alexa"))
	got, err := h.store.Get(off.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alexa", got.Username)

	ms, err := h.svc.CompleteAuthentication(context.Background(), "code")
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Rename(ms.ID, "Nope1"), account.ErrNotOffline)
}

func TestRemoveAndSwitch(t *testing.T) {
	h := newHarness(t, fakeChainServer(t, "prof-1", "Player"))
	a, _ := h.svc.AddOffline("Alpha")
	b, _ := h.svc.AddOffline("Bravo")

	require.NoError(t, h.svc.Switch(b.ID))
	assert.Equal(t, b.ID, h.store.CurrentID())

	require.NoError(t, h.svc.Remove(b.ID))
	assert.Equal(t, a.ID, h.store.CurrentID())

	assert.ErrorIs(t, h.svc.Remove(b.ID), account.ErrAccountNotFound)
}
