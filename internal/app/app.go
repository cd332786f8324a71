// Package app bootstraps the launcher core: configuration, logging,
// single-instance ownership, the account store, the authentication
// service, and the loopback callback listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/blockforge/launcher/internal/account"
	"github.com/blockforge/launcher/internal/auth"
	"github.com/blockforge/launcher/internal/auth/msa"
	"github.com/blockforge/launcher/internal/avatar"
	"github.com/blockforge/launcher/internal/config"
	"github.com/blockforge/launcher/internal/instance"
	"github.com/blockforge/launcher/internal/logging"
	"github.com/blockforge/launcher/pkg/http/exchange"
)

// ErrAlreadyRunning means another launcher owns the callback channel;
// this process forwarded its arguments there and should exit cleanly.
var ErrAlreadyRunning = errors.New("another launcher instance is already running")

// Application aggregates the launcher's long-lived services.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	lock   *instance.Lock
	svc    *auth.Service
	router *instance.Router
	http   *http.Server
}

// New bootstraps the launcher core. When another instance holds the
// single-instance lock, the launch arguments (including any deep link)
// are forwarded to it and ErrAlreadyRunning is returned.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogFile)
	logger.Info().Msg("starting launcher bootstrap")

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	lock, acquired, err := instance.Acquire(cfg.Instance.LockFile)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Info().Msg("forwarding activation to the running instance")
		if err := instance.Forward(ctx, cfg.Instance.ListenAddr, os.Args); err != nil {
			logger.Warn().Err(err).Msg("activation forward failed")
		}
		return nil, ErrAlreadyRunning
	}

	store := account.NewStore(cfg.AccountsFile(), logger)
	store.Load()

	client := exchange.New(cfg.Auth.HopTimeout, logger)
	chain := msa.New(cfg.Auth.ClientID, cfg.Auth.RedirectURI, msa.Endpoints{
		AuthorizeURL:     cfg.Auth.AuthorizeURL,
		TokenURL:         cfg.Auth.TokenURL,
		NetworkAuthURL:   cfg.Auth.NetworkAuthURL,
		SecurityTokenURL: cfg.Auth.SecurityTokenURL,
		GameTokenURL:     cfg.Auth.GameTokenURL,
		ProfileURL:       cfg.Auth.ProfileURL,
	}, client, cfg.Auth.HopTimeout, logger)

	avatars := avatar.New(client, cfg.AvatarsDir(), "", logger)

	svc := auth.NewService(store, chain, auth.Options{
		Avatars:        avatars,
		OpenBrowser:    browser.OpenURL,
		CallbackWindow: cfg.Auth.CallbackWindow,
		SkinsDir:       cfg.SkinsDir(),
	}, logger)

	router := instance.NewRouter(cfg.Auth.CustomScheme, svc.HandleCallbackURL, logger)

	return &Application{
		cfg:    cfg,
		logger: logger,
		lock:   lock,
		svc:    svc,
		router: router,
		http: &http.Server{
			Addr:    cfg.Instance.ListenAddr,
			Handler: router.Handler(),
		},
	}, nil
}

// Auth exposes the authentication service to the UI layer.
func (a *Application) Auth() *auth.Service { return a.svc }

// Run serves the loopback listener until the context ends or a signal
// arrives, then shuts down gracefully and releases the instance lock.
// Any deep link already present in the launch arguments is routed first.
func (a *Application) Run(ctx context.Context) error {
	defer a.lock.Release()

	a.router.HandleArgs(os.Args)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.http.Addr).Msg("callback listener started")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("callback listener: %w", err)
	case <-stop:
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.http.Shutdown(shutdownCtx)
}
