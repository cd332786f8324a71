package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration for the launcher.
type App struct {
	Name    string `env:"APP_NAME" envDefault:"blockforge"`
	Env     string `env:"APP_ENV" envDefault:"development"`
	LogFile string `env:"LOG_FILE"`

	// DataDir is the root for accounts.json, skins/ and avatars/.
	// Defaults to <user config dir>/blockforge/data.
	DataDir string `env:"DATA_DIR"`

	Auth     Auth
	Instance Instance
}

// Auth configures the identity-provider exchange chain.
type Auth struct {
	ClientID     string `env:"AZURE_CLIENT_ID" envDefault:"00000000402b5328"`
	RedirectURI  string `env:"REDIRECT_URI" envDefault:"https://login.live.com/oauth20_desktop.srf"`
	CustomScheme string `env:"CUSTOM_PROTOCOL" envDefault:"ms-xal-00000000402b5328"`

	// Endpoint overrides exist for tests; the defaults are the live
	// provider endpoints.
	AuthorizeURL     string `env:"AUTH_AUTHORIZE_URL" envDefault:"https://login.live.com/oauth20_authorize.srf"`
	TokenURL         string `env:"AUTH_TOKEN_URL" envDefault:"https://login.live.com/oauth20_token.srf"`
	NetworkAuthURL   string `env:"AUTH_NETWORK_URL" envDefault:"https://user.auth.xboxlive.com/user/authenticate"`
	SecurityTokenURL string `env:"AUTH_SECURITY_URL" envDefault:"https://xsts.auth.xboxlive.com/xsts/authorize"`
	GameTokenURL     string `env:"AUTH_GAME_TOKEN_URL" envDefault:"https://api.minecraftservices.com/authentication/login_with_xbox"`
	ProfileURL       string `env:"AUTH_PROFILE_URL" envDefault:"https://api.minecraftservices.com/minecraft/profile"`

	// CallbackWindow bounds how long a login waits for the browser
	// redirect. HopTimeout bounds each individual network exchange.
	CallbackWindow time.Duration `env:"AUTH_CALLBACK_WINDOW" envDefault:"300s"`
	HopTimeout     time.Duration `env:"AUTH_HOP_TIMEOUT" envDefault:"30s"`
}

// Instance configures single-instance ownership and the loopback
// callback listener.
type Instance struct {
	ListenAddr string `env:"CALLBACK_LISTEN_ADDR" envDefault:"127.0.0.1:23456"`
	LockFile   string `env:"INSTANCE_LOCK_FILE"`
}

// Load parses environment variables into App config and fills in
// platform-dependent path defaults.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, cfg.Name, "data")
	}
	if cfg.Instance.LockFile == "" {
		cfg.Instance.LockFile = filepath.Join(cfg.DataDir, "instance.lock")
	}
	return cfg, nil
}

// AccountsFile is the durable account store document.
func (a *App) AccountsFile() string { return filepath.Join(a.DataDir, "accounts.json") }

// SkinsDir holds copied local skin textures, keyed by account id.
func (a *App) SkinsDir() string { return filepath.Join(a.DataDir, "skins") }

// AvatarsDir holds extracted face images, keyed by account id.
func (a *App) AvatarsDir() string { return filepath.Join(a.DataDir, "avatars") }

// EnsureDirs creates the data directories if missing.
func (a *App) EnsureDirs() error {
	for _, dir := range []string{a.DataDir, a.SkinsDir(), a.AvatarsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
