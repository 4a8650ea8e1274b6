package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	authConfigPath = "/auth_config.json"
	demoPath       = "/demo"
	rootPath       = "/"
	tracerName     = "github.com/upb/auth-session/auth"
)

var (
	// ErrNotConfigured is returned when an action runs before Configure succeeded
	ErrNotConfigured = errors.New("auth session not configured")

	// ErrUnexpectedStatus is returned for non-2xx responses from config or API calls
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Session replaces the page globals: the loaded configuration, the identity
// client built from it and the protected API endpoint
type Session struct {
	Config   models.AuthConfig
	Client   IdentityClient
	Endpoint string
}

// Options configures a Controller
type Options struct {
	ConfigOrigin string // Origin serving /auth_config.json
	Factory      ClientFactory
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Tracer       trace.Tracer
}

// Controller is the auth session controller. It owns the single Session and
// runs the page lifecycle steps against a View.
type Controller struct {
	configURL  string
	factory    ClientFactory
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer

	// configuring admits one config fetch at a time; session is read without it
	configuring chan struct{}
	session     atomic.Pointer[Session]
}

// NewController creates a new Controller
func NewController(opts Options) (*Controller, error) {
	if opts.ConfigOrigin == "" {
		return nil, fmt.Errorf("auth: config origin is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("auth: client factory is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Controller{
		configURL:   strings.TrimSuffix(opts.ConfigOrigin, "/") + authConfigPath,
		factory:     opts.Factory,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		configuring: make(chan struct{}, 1),
	}, nil
}

// Session returns the configured session, if any. It never waits on Configure.
func (c *Controller) Session() (*Session, bool) {
	sess := c.session.Load()
	return sess, sess != nil
}

// Configure fetches /auth_config.json and builds the identity client from it.
// Only a successful result is kept; a failed call is retried by the next caller.
// Concurrent callers wait for the fetch in flight, or for ctx.
func (c *Controller) Configure(ctx context.Context) (*Session, error) {
	if sess := c.session.Load(); sess != nil {
		return sess, nil
	}

	select {
	case c.configuring <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.configuring }()

	if sess := c.session.Load(); sess != nil {
		return sess, nil
	}

	ctx, span := c.tracer.Start(ctx, "auth.Configure")
	defer span.End()

	cfg, err := c.fetchConfig(ctx)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	client, err := c.factory(ctx, *cfg)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("create identity client: %w", err)
	}

	sess := &Session{
		Config:   *cfg,
		Client:   client,
		Endpoint: strings.TrimSuffix(cfg.APIEndpoint, "/"),
	}
	c.session.Store(sess)

	c.logger.Info("auth session configured",
		zap.String("domain", cfg.Domain),
		zap.String("client_id", cfg.ClientID),
		zap.String("api_endpoint", sess.Endpoint))

	return sess, nil
}

func (c *Controller) fetchConfig(ctx context.Context) (*models.AuthConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.configURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch auth config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch auth config: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var cfg models.AuthConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode auth config: %w", err)
	}
	if err := utils.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	return &cfg, nil
}

// OnPageLoad runs the page-load sequence: configure, refresh, and when the
// query carries both code and state, complete the login, refresh again and
// drop the query string. Steps run strictly in that order.
func (c *Controller) OnPageLoad(ctx context.Context, view View, query url.Values) error {
	ctx, span := c.tracer.Start(ctx, "auth.OnPageLoad")
	defer span.End()

	sess, err := c.Configure(ctx)
	if err != nil {
		recordError(span, err)
		return err
	}

	if err := c.RefreshUI(ctx, sess, view); err != nil {
		recordError(span, err)
		return err
	}

	if !query.Has("code") || !query.Has("state") {
		return nil
	}

	span.SetAttributes(attribute.Bool("auth.redirect_callback", true))
	if err := sess.Client.HandleRedirectCallback(ctx, query); err != nil {
		recordError(span, err)
		return fmt.Errorf("handle redirect callback: %w", err)
	}

	if err := c.RefreshUI(ctx, sess, view); err != nil {
		recordError(span, err)
		return err
	}

	view.ReplaceURL(rootPath)
	return nil
}

// RefreshUI reflects the current authentication status into view. Exactly one
// of the gated and welcome regions ends up visible.
func (c *Controller) RefreshUI(ctx context.Context, sess *Session, view View) error {
	if sess == nil {
		return ErrNotConfigured
	}

	authenticated, err := sess.Client.IsAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("check authentication: %w", err)
	}

	view.SetDisabled(ElementLogoutButton, !authenticated)
	view.SetDisabled(ElementAPIButton, !authenticated)
	view.SetDisabled(ElementLoginButton, authenticated)

	view.SetVisible(ElementGatedContent, authenticated)
	view.SetVisible(ElementWelcome, !authenticated)

	if !authenticated {
		return nil
	}

	token, err := sess.Client.GetTokenSilently(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	view.SetText(ElementAccessToken, token)

	user, err := sess.Client.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	profile, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}
	view.SetText(ElementUserProfile, string(profile))

	return nil
}

// Login sends the browser to the hosted login page; the provider returns it to origin
func (c *Controller) Login(ctx context.Context, view View, origin string) error {
	ctx, span := c.tracer.Start(ctx, "auth.Login")
	defer span.End()

	sess, err := c.Configure(ctx)
	if err != nil {
		recordError(span, err)
		return err
	}

	location, err := sess.Client.LoginWithRedirect(ctx, identity.RedirectLoginOptions{RedirectURI: origin})
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("login with redirect: %w", err)
	}

	view.Navigate(location)
	return nil
}

// Logout ends the session and sends the browser to the provider logout, returning to origin
func (c *Controller) Logout(ctx context.Context, view View, origin string) error {
	ctx, span := c.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	sess, err := c.Configure(ctx)
	if err != nil {
		recordError(span, err)
		return err
	}

	location, err := sess.Client.Logout(ctx, identity.LogoutOptions{ReturnTo: origin})
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("logout: %w", err)
	}

	view.Navigate(location)
	return nil
}

// CallProtectedAPI calls {endpoint}/demo?user_id=<sub> with the access token
// and shows the returned message. Unauthenticated users get a notification
// and no request is made. The returned status is that of the API response,
// or 0 when no response was received.
func (c *Controller) CallProtectedAPI(ctx context.Context, view View) (int, error) {
	ctx, span := c.tracer.Start(ctx, "auth.CallProtectedAPI")
	defer span.End()

	sess, err := c.Configure(ctx)
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	authenticated, err := sess.Client.IsAuthenticated(ctx)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("check authentication: %w", err)
	}
	if !authenticated {
		view.Alert(NotLoggedInMessage)
		return 0, nil
	}

	token, err := sess.Client.GetTokenSilently(ctx)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("get access token: %w", err)
	}
	user, err := sess.Client.GetUser(ctx)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return 0, fmt.Errorf("get user: %w", identity.ErrLoginRequired)
	}

	endpoint := sess.Endpoint + demoPath + FormatParams(map[string]string{"user_id": user.Subject})
	status, message, err := c.fetchMessage(ctx, endpoint, token)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		recordError(span, err)
		return status, err
	}

	view.Alert(message)
	return status, nil
}

func (c *Controller) fetchMessage(ctx context.Context, endpoint, token string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("call protected api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, "", fmt.Errorf("call protected api: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var envelope models.DemoEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode api response: %w", err)
	}

	var msg models.DemoMessage
	if err := json.Unmarshal([]byte(envelope.Body), &msg); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode api response body: %w", err)
	}

	return resp.StatusCode, msg.Message, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
