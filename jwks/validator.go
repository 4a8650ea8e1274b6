package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")
)

// accessClaims are the Auth0 access token claims go-oidc does not surface
type accessClaims struct {
	Scope string `json:"scope"`
	Azp   string `json:"azp"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Subject   string
	Scopes    []string
	ClientID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CacheStats describes the key set currently in use
type CacheStats struct {
	Warm      bool      `json:"warm"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Refreshes int       `json:"refreshes"`
}

// Validator validates RS256 access tokens against a provider's JWKS.
//
// Keys are fetched through a go-oidc RemoteKeySet, which refetches when a
// token names an unknown kid. The key set itself is dropped after CacheTTL so
// keys removed from the JWKS stop verifying.
type Validator struct {
	issuer    string
	audience  string
	jwksURL   string
	cacheTTL  time.Duration
	clientCtx context.Context
	now       func() time.Time

	mu        sync.Mutex
	verifier  *oidc.IDTokenVerifier
	expiresAt time.Time
	refreshes int
}

// Config holds configuration for Validator
type Config struct {
	Issuer      string // e.g. https://dev-abc.us.auth0.com/
	Audience    string
	JWKSURL     string // defaults to {Issuer}.well-known/jwks.json
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// NewValidator creates a new JWKS-backed validator
func NewValidator(config Config) *Validator {
	if config.CacheTTL == 0 {
		config.CacheTTL = 1 * time.Hour
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.JWKSURL == "" {
		config.JWKSURL = strings.TrimSuffix(config.Issuer, "/") + "/.well-known/jwks.json"
	}

	httpClient := &http.Client{Timeout: config.HTTPTimeout}
	return &Validator{
		issuer:    config.Issuer,
		audience:  config.Audience,
		jwksURL:   config.JWKSURL,
		cacheTTL:  config.CacheTTL,
		clientCtx: oidc.ClientContext(context.Background(), httpClient),
		now:       time.Now,
	}
}

// ValidateToken validates a JWT token and returns parsed claims
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	token, err := v.currentVerifier().Verify(ctx, tokenString)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if token.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, token.Issuer)
	}

	if !containsAudience(token.Audience, v.audience) {
		return nil, ErrInvalidAudience
	}

	if token.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}

	var extra accessClaims
	if err := token.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &ParsedClaims{
		Subject:   token.Subject,
		Scopes:    strings.Fields(extra.Scope),
		ClientID:  extra.Azp,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.Expiry,
	}, nil
}

// Stats reports whether a key set is cached and when it is dropped
func (v *Validator) Stats() CacheStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.verifier == nil || !v.now().Before(v.expiresAt) {
		return CacheStats{Refreshes: v.refreshes}
	}
	return CacheStats{Warm: true, ExpiresAt: v.expiresAt, Refreshes: v.refreshes}
}

// currentVerifier returns the verifier for the live key set, starting a new
// key set once the previous one has outlived the cache TTL
func (v *Validator) currentVerifier() *oidc.IDTokenVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if v.verifier == nil || !now.Before(v.expiresAt) {
		keySet := oidc.NewRemoteKeySet(v.clientCtx, v.jwksURL)
		// iss and aud are checked by ValidateToken to keep the typed errors
		v.verifier = oidc.NewVerifier(v.issuer, keySet, &oidc.Config{
			SkipClientIDCheck: true,
			SkipIssuerCheck:   true,
		})
		v.expiresAt = now.Add(v.cacheTTL)
		v.refreshes++
	}
	return v.verifier
}

func containsAudience(audiences []string, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}
