package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when the request context carries no browser session
	ErrNoSession = errors.New("no browser session in context")

	// ErrInvalidState is returned when the callback state does not match the pending login
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidNonce is returned when the ID token nonce does not match the pending login
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrLoginRequired is returned when a token is requested for a session that is not logged in
	ErrLoginRequired = errors.New("login required")

	// ErrMissingIDToken is returned when the token endpoint response has no id_token
	ErrMissingIDToken = errors.New("no id_token in token response")
)

// AuthenticationError is an error reported by the provider on the redirect callback
// (?error=access_denied&error_description=...).
type AuthenticationError struct {
	Code        string
	Description string
}

func (e *AuthenticationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authentication failed: %s", e.Code)
	}
	return fmt.Sprintf("authentication failed: %s: %s", e.Code, e.Description)
}
