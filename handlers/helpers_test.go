package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/auth"
	"github.com/upb/auth-session/config"
	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/internal/oidctest"
	"github.com/upb/auth-session/jwks"
	"github.com/upb/auth-session/middleware"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/services/audit"
	"go.uber.org/zap"
)

// recordingRepo keeps audit rows in memory
type recordingRepo struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingRepo) Insert(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingRepo) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if l := r.logs[i]; l.Subject != nil && *l.Subject == subject {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *recordingRepo) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

func (r *recordingRepo) find(action models.AuditAction) *models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.Action == action {
			return l
		}
	}
	return nil
}

type testEnv struct {
	deps     *app.Dependencies
	provider *oidctest.Provider
	server   *httptest.Server
	audit    *recordingRepo
	client   *http.Client
}

// newTestEnv serves the app's page, config and demo routes on an httptest
// server wired to an in-process identity provider
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := oidctest.NewProvider(t, "client-123", "https://demo-api")

	var handler http.Handler
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	configFile := writeAuthConfig(t, models.AuthConfig{
		Domain:      provider.URL,
		ClientID:    provider.ClientID,
		Audience:    provider.Audience,
		APIEndpoint: server.URL + "/api",
	})

	cfg := &config.Config{Environment: "test"}
	cfg.Auth = config.AuthConfig{
		ConfigFile:     configFile,
		ConfigOrigin:   server.URL,
		HTTPTimeout:    5 * time.Second,
		SessionCookie:  "auth_session",
		SessionMaxAge:  time.Hour,
		TransactionTTL: time.Minute,
	}

	logger := zap.NewNop()
	repo := &recordingRepo{}
	auditService := audit.NewAuditService(repo, logger, audit.DefaultConfig())
	require.NoError(t, auditService.Start())
	t.Cleanup(func() { _ = auditService.Stop(time.Second) })

	httpClient := &http.Client{Timeout: 5 * time.Second}
	store := identity.NewMemoryStore(time.Minute, time.Hour, logger)
	controller, err := auth.NewController(auth.Options{
		ConfigOrigin: server.URL,
		Factory:      auth.OIDCClientFactory(store, httpClient, logger),
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	require.NoError(t, err)

	validator := jwks.NewValidator(jwks.Config{Issuer: provider.Issuer(), Audience: provider.Audience})

	deps := &app.Dependencies{
		Config:            cfg,
		Logger:            logger,
		AuditLogs:         repo,
		Audit:             auditService,
		Sessions:          store,
		Controller:        controller,
		SessionMiddleware: middleware.NewSessionMiddleware("auth_session", time.Hour, false, store, logger),
		TokenValidator:    validator,
		AuthMiddleware:    middleware.NewAuthMiddleware(validator, logger),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Get("/auth_config.json", AuthConfigHandler(deps))
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Handler)
		r.Get("/", PageHandler(deps))
		r.Post("/login", LoginHandler(deps))
		r.Post("/logout", LogoutHandler(deps))
		r.Post("/call-api", CallAPIHandler(deps))
	})
	r.With(deps.AuthMiddleware.RequireAuth).Get("/api/demo", DemoHandler(deps))
	r.With(deps.AuthMiddleware.RequireAuth).Get("/api/audit", AuditHistoryHandler(deps))
	handler = r

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		deps:     deps,
		provider: provider,
		server:   server,
		audit:    repo,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func writeAuthConfig(t *testing.T, cfg models.AuthConfig) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "auth_config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
