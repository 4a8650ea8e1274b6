package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Options configures a Client. Domain, ClientID and Audience come from the
// remote auth configuration; the rest is wiring.
type Options struct {
	Domain   string
	ClientID string
	Audience string

	Store      *MemoryStore
	HTTPClient *http.Client
	Scopes     []string
	Logger     *zap.Logger
}

// RedirectLoginOptions are the parameters of LoginWithRedirect
type RedirectLoginOptions struct {
	RedirectURI string
}

// LogoutOptions are the parameters of Logout
type LogoutOptions struct {
	ReturnTo string
}

// Client is an OpenID Connect authorization-code client (PKCE, public client)
// against an Auth0-style tenant. Per-browser state lives in the Store and is
// selected by the session ID bound to the request context.
type Client struct {
	baseURL    string
	clientID   string
	audience   string
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	store      *MemoryStore
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// New constructs a Client. It performs no network I/O; the JWKS is fetched
// lazily on the first ID token verification.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Domain == "" || opts.ClientID == "" {
		return nil, fmt.Errorf("identity: domain and client ID are required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	base := BaseURL(opts.Domain)
	issuer := base + "/"

	// The key set outlives the request that happened to construct the client.
	keyCtx := oidc.ClientContext(context.WithoutCancel(ctx), opts.HTTPClient)
	keySet := oidc.NewRemoteKeySet(keyCtx, base+"/.well-known/jwks.json")

	return &Client{
		baseURL:  base,
		clientID: opts.ClientID,
		audience: opts.Audience,
		oauth: oauth2.Config{
			ClientID: opts.ClientID,
			Scopes:   opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier:   oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: opts.ClientID}),
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// BaseURL turns a tenant domain into an origin. Domains that already carry a
// scheme are used as-is.
func BaseURL(domain string) string {
	domain = strings.TrimSuffix(domain, "/")
	if strings.HasPrefix(domain, "https://") || strings.HasPrefix(domain, "http://") {
		return domain
	}
	return "https://" + domain
}

// IsAuthenticated reports whether the session holds an unexpired access token.
// A context without a session is simply not authenticated.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	sid := SessionIDFromContext(ctx)
	if sid == "" {
		return false, nil
	}
	tokens, ok := c.store.Tokens(sid)
	return ok && tokens.Valid(c.now()), nil
}

// GetTokenSilently returns the cached access token. There is no refresh: an
// expired token yields ErrLoginRequired.
func (c *Client) GetTokenSilently(ctx context.Context) (string, error) {
	tokens, err := c.tokens(ctx)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// GetUser returns the profile decoded from the session's ID token
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	tokens, err := c.tokens(ctx)
	if err != nil {
		return nil, err
	}
	return tokens.User, nil
}

func (c *Client) tokens(ctx context.Context) (*TokenSet, error) {
	sid := SessionIDFromContext(ctx)
	if sid == "" {
		return nil, ErrNoSession
	}
	tokens, ok := c.store.Tokens(sid)
	if !ok || !tokens.Valid(c.now()) {
		return nil, ErrLoginRequired
	}
	return tokens, nil
}

// LoginWithRedirect starts a login and returns the hosted login page URL the
// browser must be sent to.
func (c *Client) LoginWithRedirect(ctx context.Context, opts RedirectLoginOptions) (string, error) {
	sid := SessionIDFromContext(ctx)
	if sid == "" {
		return "", ErrNoSession
	}

	state, err := randomString(24)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	c.store.PutTransaction(sid, &Transaction{
		State:       state,
		Nonce:       nonce,
		Verifier:    verifier,
		RedirectURI: opts.RedirectURI,
	})

	conf := c.oauth
	conf.RedirectURL = opts.RedirectURI

	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if c.audience != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("audience", c.audience))
	}

	return conf.AuthCodeURL(state, authOpts...), nil
}

// HandleRedirectCallback consumes the code/state pair from the callback query,
// checks it against the pending login, exchanges the code and verifies the ID token.
func (c *Client) HandleRedirectCallback(ctx context.Context, query url.Values) error {
	sid := SessionIDFromContext(ctx)
	if sid == "" {
		return ErrNoSession
	}

	tx, ok := c.store.TakeTransaction(sid)
	if !ok {
		return fmt.Errorf("%w: no pending login", ErrInvalidState)
	}
	if query.Get("state") != tx.State {
		return ErrInvalidState
	}
	if code := query.Get("error"); code != "" {
		return &AuthenticationError{Code: code, Description: query.Get("error_description")}
	}

	conf := c.oauth
	conf.RedirectURL = tx.RedirectURI

	token, err := conf.Exchange(oidc.ClientContext(ctx, c.httpClient), query.Get("code"), oauth2.VerifierOption(tx.Verifier))
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return ErrMissingIDToken
	}

	idToken, err := c.verifier.Verify(oidc.ClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		return fmt.Errorf("verify id token: %w", err)
	}
	if idToken.Nonce != tx.Nonce {
		return ErrInvalidNonce
	}

	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("decode id token claims: %w", err)
	}

	c.store.PutTokens(sid, &TokenSet{
		AccessToken: token.AccessToken,
		IDToken:     rawIDToken,
		Expiry:      token.Expiry,
		User:        &User{Subject: idToken.Subject, Claims: claims},
	})

	c.logger.Debug("login completed", zap.String("sub", idToken.Subject))
	return nil
}

// Logout forgets the session locally and returns the provider logout URL.
func (c *Client) Logout(ctx context.Context, opts LogoutOptions) (string, error) {
	if sid := SessionIDFromContext(ctx); sid != "" {
		c.store.Delete(sid)
	}

	params := url.Values{"client_id": {c.clientID}}
	if opts.ReturnTo != "" {
		params.Set("returnTo", opts.ReturnTo)
	}
	return c.baseURL + "/v2/logout?" + params.Encode(), nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
