package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/upb/auth-session/auth"
	"github.com/upb/auth-session/config"
	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/jwks"
	"github.com/upb/auth-session/middleware"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/repositories"
	"github.com/upb/auth-session/repositories/postgres"
	"github.com/upb/auth-session/services/audit"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when DATABASE_URL is unset
	Logger *zap.Logger

	// Audit trail
	AuditLogs repositories.AuditRepository
	Audit     *audit.AuditService

	// Auth session
	Sessions          *identity.MemoryStore
	Controller        *auth.Controller
	SessionMiddleware *middleware.SessionMiddleware

	// Demo API
	TokenValidator *jwks.Validator // nil when the demo API is disabled
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initDemoAPI(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase connects PostgreSQL for the audit trail, or falls back to
// writing audit entries to the log
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, audit entries go to the log")
		d.AuditLogs = audit.NewLogRepository(d.Logger)
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.DB = db
	d.AuditLogs = postgres.NewAuditRepository(db, d.Logger)
	return nil
}

func (d *Dependencies) initAudit() error {
	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	return d.Audit.Start()
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	httpClient := &http.Client{Timeout: cfg.Auth.HTTPTimeout}

	d.Sessions = identity.NewMemoryStore(cfg.Auth.TransactionTTL, cfg.Auth.SessionMaxAge, d.Logger)

	controller, err := auth.NewController(auth.Options{
		ConfigOrigin: cfg.Auth.ConfigOrigin,
		Factory:      auth.OIDCClientFactory(d.Sessions, httpClient, d.Logger),
		HTTPClient:   httpClient,
		Logger:       d.Logger,
	})
	if err != nil {
		return err
	}
	d.Controller = controller

	secure := cfg.Server.TLS.Enabled || strings.HasPrefix(cfg.Server.PublicOrigin, "https://")
	d.SessionMiddleware = middleware.NewSessionMiddleware(cfg.Auth.SessionCookie, cfg.Auth.SessionMaxAge, secure, d.Sessions, d.Logger)

	d.Logger.Info("auth session controller initialized",
		zap.String("config_origin", cfg.Auth.ConfigOrigin))
	return nil
}

// initDemoAPI builds the bearer validator for /api/demo from the same
// auth_config.json the page loads
func (d *Dependencies) initDemoAPI(cfg *config.Config) {
	if !cfg.DemoAPI.Enabled {
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	authCfg, err := LoadAuthConfigFile(cfg.Auth.ConfigFile)
	if err != nil {
		d.Logger.Warn("demo api disabled, auth config unavailable",
			zap.String("file", cfg.Auth.ConfigFile),
			zap.Error(err))
		// Reject-all validator so the demo route answers 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	validator := jwks.NewValidator(jwks.Config{
		Issuer:      identity.BaseURL(authCfg.Domain) + "/",
		Audience:    authCfg.Audience,
		CacheTTL:    cfg.DemoAPI.JWKSCacheTTL,
		HTTPTimeout: cfg.Auth.HTTPTimeout,
	})
	d.TokenValidator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("demo api initialized",
		zap.String("issuer", identity.BaseURL(authCfg.Domain)+"/"),
		zap.String("audience", authCfg.Audience))
}

// LoadAuthConfigFile reads and validates an auth_config.json file
func LoadAuthConfigFile(path string) (*models.AuthConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth config: %w", err)
	}

	var cfg models.AuthConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse auth config: %w", err)
	}
	if err := utils.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	return &cfg, nil
}

// rejectAllValidator rejects all tokens (used when the demo API is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*jwks.ParsedClaims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the audit queue before the database goes away
	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed init", zap.Error(err))
	}
}
