// Package msa runs the four-hop token exchange that turns an OAuth
// authorization code into a game-service access token plus profile:
// identity token, Xbox Live user token, XSTS security token, game token,
// then the profile fetch. Each hop consumes the prior's output; the
// order is fixed.
package msa

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/blockforge/launcher/pkg/http/exchange"
)

// Endpoints are the provider URLs the chain talks to. Overridable so
// tests can point every hop at a local server.
type Endpoints struct {
	AuthorizeURL     string
	TokenURL         string
	NetworkAuthURL   string
	SecurityTokenURL string
	GameTokenURL     string
	ProfileURL       string
}

// Scopes requested from the identity provider. offline_access yields the
// refresh token the refresh path depends on.
var Scopes = []string{"XboxLive.signin", "offline_access"}

// Profile is the game profile owned by the authenticated identity.
type Profile struct {
	ID      string
	Name    string
	SkinURL string
}

// Result carries the chain's final outputs. It lives only for the one
// execution that produced it.
type Result struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Profile      Profile
}

// Chain executes the exchange sequence.
type Chain struct {
	oauth     *oauth2.Config
	client    *exchange.Client
	endpoints Endpoints
	logger    zerolog.Logger

	httpClient *http.Client
}

// New builds a chain for the given client registration. The exchange
// client's timeout bounds hops 2-5; hop 1 gets the same bound through
// httpClient.
func New(clientID, redirectURI string, eps Endpoints, client *exchange.Client, hopTimeout time.Duration, logger zerolog.Logger) *Chain {
	if hopTimeout <= 0 {
		hopTimeout = exchange.DefaultTimeout
	}
	return &Chain{
		oauth: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURI,
			Scopes:      Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   eps.AuthorizeURL,
				TokenURL:  eps.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:     client,
		endpoints:  eps,
		logger:     logger,
		httpClient: &http.Client{Timeout: hopTimeout},
	}
}

// AuthCodeURL builds the browser authorization URL carrying the session
// state token.
func (c *Chain) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Complete exchanges an authorization code through the full chain.
func (c *Chain) Complete(ctx context.Context, code string) (*Result, error) {
	c.logger.Info().Msg("starting authentication chain")

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, failed(IdentityExchangeFailed, "could not reach the identity provider or the code was rejected", err)
	}
	c.logger.Debug().Msg("identity token obtained")

	return c.completeFrom(ctx, tok.AccessToken, tok.RefreshToken)
}

// Refresh repeats the chain from a stored refresh token in place of the
// authorization-code hop.
func (c *Chain) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	c.logger.Info().Msg("refreshing authentication chain")

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, failed(IdentityExchangeFailed, "the stored session has expired, sign in again", err)
	}

	// The provider may rotate the refresh token; fall back to the old
	// one when it does not.
	next := tok.RefreshToken
	if next == "" {
		next = refreshToken
	}
	return c.completeFrom(ctx, tok.AccessToken, next)
}

func (c *Chain) completeFrom(ctx context.Context, identityToken, refreshToken string) (*Result, error) {
	xbl, err := c.networkAuth(ctx, identityToken)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Msg("network user token obtained")

	xsts, err := c.securityToken(ctx, xbl)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Msg("security token obtained")

	gameToken, expiresAt, err := c.gameToken(ctx, xsts)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Msg("game token obtained")

	profile, err := c.fetchProfile(ctx, gameToken)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("profile", profile.Name).Msg("authentication chain complete")

	return &Result{
		AccessToken:  gameToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Profile:      *profile,
	}, nil
}

// oauthContext routes the oauth2 exchange through a timeout-bearing
// client instead of http.DefaultClient.
func (c *Chain) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

type xboxTicketResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

func (c *Chain) networkAuth(ctx context.Context, identityToken string) (string, error) {
	payload := map[string]any{
		"Properties": map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  "d=" + identityToken,
		},
		"RelyingParty": "http://auth.xboxlive.com",
		"TokenType":    "JWT",
	}

	out, err := c.client.PostJSON(ctx, c.endpoints.NetworkAuthURL, payload)
	if err != nil {
		return "", failed(NetworkAuthFailed, "Xbox Live authentication failed", err)
	}

	var resp xboxTicketResponse
	if err := out.Decode(&resp); err != nil || resp.Token == "" {
		return "", failed(NetworkAuthFailed, "Xbox Live returned an unusable response", err)
	}
	return resp.Token, nil
}

type securityTicket struct {
	Token    string
	UserHash string
}

func (c *Chain) securityToken(ctx context.Context, networkToken string) (*securityTicket, error) {
	payload := map[string]any{
		"Properties": map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{networkToken},
		},
		"RelyingParty": "rp://api.minecraftservices.com/",
		"TokenType":    "JWT",
	}

	out, err := c.client.PostJSON(ctx, c.endpoints.SecurityTokenURL, payload)
	if err != nil {
		// XSTS rejections arrive as failing statuses with an XErr body
		// naming the account condition.
		if out != nil && out.Body != nil {
			var xerr struct {
				XErr uint64 `json:"XErr"`
			}
			if decodeErr := out.Decode(&xerr); decodeErr == nil && xerr.XErr != 0 {
				return nil, failed(SecurityTokenFailed, xstsConditionMessage(xerr.XErr), err)
			}
		}
		return nil, failed(SecurityTokenFailed, "security token authorization failed", err)
	}

	var resp xboxTicketResponse
	if err := out.Decode(&resp); err != nil || resp.Token == "" {
		return nil, failed(SecurityTokenFailed, "security token response was unusable", err)
	}
	if len(resp.DisplayClaims.XUI) == 0 || resp.DisplayClaims.XUI[0].UHS == "" {
		return nil, failed(SecurityTokenFailed, "security token response is missing the user-hash claim", nil)
	}
	return &securityTicket{Token: resp.Token, UserHash: resp.DisplayClaims.XUI[0].UHS}, nil
}

func (c *Chain) gameToken(ctx context.Context, ticket *securityTicket) (string, time.Time, error) {
	payload := map[string]string{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", ticket.UserHash, ticket.Token),
	}

	out, err := c.client.PostJSON(ctx, c.endpoints.GameTokenURL, payload)
	if err != nil {
		return "", time.Time{}, failed(GameTokenFailed, "the game service rejected the sign-in", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := out.Decode(&resp); err != nil || resp.AccessToken == "" {
		return "", time.Time{}, failed(GameTokenFailed, "the game service returned an unusable token response", err)
	}

	expiresAt := tokenExpiry(resp.AccessToken)
	if expiresAt.IsZero() && resp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return resp.AccessToken, expiresAt, nil
}

func (c *Chain) fetchProfile(ctx context.Context, gameToken string) (*Profile, error) {
	out, err := c.client.GetBearer(ctx, c.endpoints.ProfileURL, gameToken)
	if err != nil {
		// A missing license answers 404; an unreachable service is a
		// different problem and must read differently to the user.
		return nil, failed(ProfileFetchFailed, "could not reach the game service; check your network and retry", err)
	}
	if out.NotFound {
		return nil, failed(NoEntitlement, "this account does not own the game; buy it or use an offline account", nil)
	}

	var resp struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
		Skins        []struct {
			URL string `json:"url"`
		} `json:"skins"`
	}
	if err := out.Decode(&resp); err != nil {
		return nil, failed(IncompleteProfile, "the profile response could not be parsed", err)
	}
	if resp.Error != "" || resp.ErrorMessage != "" {
		return nil, failed(NoEntitlement, "this account does not own the game; buy it or use an offline account", fmt.Errorf("%s", nonEmpty(resp.ErrorMessage, resp.Error)))
	}
	if resp.ID == "" || resp.Name == "" {
		return nil, failed(IncompleteProfile, "the profile is missing id or name; check the client registration's API permissions", nil)
	}

	p := &Profile{ID: resp.ID, Name: resp.Name}
	if len(resp.Skins) > 0 {
		p.SkinURL = resp.Skins[0].URL
	}
	return p, nil
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
