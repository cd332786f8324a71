package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/blockforge/launcher/pkg/callback"
)

// Deliverer receives a callback URL extracted from a redirect or a
// forwarded activation.
type Deliverer func(rawURL string) error

// Router owns the loopback surface of the running instance.
type Router struct {
	scheme  string
	deliver Deliverer
	logger  zerolog.Logger
}

// NewRouter builds the deep-link router for the given custom scheme.
func NewRouter(scheme string, deliver Deliverer, logger zerolog.Logger) *Router {
	return &Router{scheme: scheme, deliver: deliver, logger: logger}
}

// activation is the payload a second launch attempt forwards before it
// exits.
type activation struct {
	Args []string `json:"args"`
}

type activationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Handler returns the loopback HTTP surface: the OAuth redirect capture
// and the second-instance activation endpoint.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/auth/callback", rt.handleRedirect)
	r.Post("/activate", rt.handleActivate)
	return r
}

// handleRedirect captures a browser redirect landing on the loopback
// listener and routes it into the pending login.
func (rt *Router) handleRedirect(w http.ResponseWriter, r *http.Request) {
	raw := "http://" + r.Host + r.URL.String()
	err := rt.deliver(raw)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		rt.logger.Warn().Err(err).Msg("redirect capture was not accepted")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, "<html><body><h1>Sign-in failed</h1><p>Return to the launcher and try again.</p></body></html>")
		return
	}
	fmt.Fprint(w, "<html><body><h1>Signed in</h1><p>You can close this page and return to the launcher.</p></body></html>")
}

// handleActivate receives the argument list of a second launch attempt
// and routes any custom-scheme URL it carries.
func (rt *Router) handleActivate(w http.ResponseWriter, r *http.Request) {
	var act activation
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		writeJSON(w, http.StatusBadRequest, activationResponse{Error: "invalid activation payload"})
		return
	}

	if rt.HandleArgs(act.Args) {
		writeJSON(w, http.StatusOK, activationResponse{Success: true})
		return
	}
	// A plain second launch with no deep link still succeeds; the user
	// just gets the already-running instance.
	rt.logger.Info().Msg("second instance activated with no deep link")
	writeJSON(w, http.StatusOK, activationResponse{Success: true})
}

// HandleArgs scans a launch argument list for a custom-scheme URL and
// delivers it. Returns whether a deep link was found.
func (rt *Router) HandleArgs(args []string) bool {
	for _, arg := range args {
		if !callback.IsScheme(arg, rt.scheme) {
			continue
		}
		rt.logger.Info().Msg("deep link activation received")
		if err := rt.deliver(arg); err != nil {
			rt.logger.Warn().Err(err).Msg("deep link was not accepted")
		}
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Forward sends this process's launch arguments to the instance that
// holds the lock, then the caller exits.
func Forward(ctx context.Context, addr string, args []string) error {
	body, err := json.Marshal(activation{Args: args})
	if err != nil {
		return fmt.Errorf("encode activation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/activate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build activation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("forward activation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forward activation: HTTP %d", resp.StatusCode)
	}
	return nil
}
