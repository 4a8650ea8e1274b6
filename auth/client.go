package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/models"
	"go.uber.org/zap"
)

// IdentityClient is the identity-provider handle the controller drives
type IdentityClient interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	GetTokenSilently(ctx context.Context) (string, error)
	GetUser(ctx context.Context) (*identity.User, error)
	LoginWithRedirect(ctx context.Context, opts identity.RedirectLoginOptions) (string, error)
	HandleRedirectCallback(ctx context.Context, query url.Values) error
	Logout(ctx context.Context, opts identity.LogoutOptions) (string, error)
}

// ClientFactory constructs the identity client from the loaded configuration
type ClientFactory func(ctx context.Context, cfg models.AuthConfig) (IdentityClient, error)

// OIDCClientFactory returns a ClientFactory backed by identity.Client.
// All clients it builds share store, so sessions survive a reconfiguration.
func OIDCClientFactory(store *identity.MemoryStore, httpClient *http.Client, logger *zap.Logger) ClientFactory {
	return func(ctx context.Context, cfg models.AuthConfig) (IdentityClient, error) {
		return identity.New(ctx, identity.Options{
			Domain:     cfg.Domain,
			ClientID:   cfg.ClientID,
			Audience:   cfg.Audience,
			Store:      store,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}
}
