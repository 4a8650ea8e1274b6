package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auth-session/identity"
	"go.uber.org/zap"
)

// SessionRotator moves server-side session state to a new ID
type SessionRotator interface {
	Rotate(oldID, newID string)
}

// SessionMiddleware binds every browser to a session ID carried in a cookie.
// The ID only selects server-side identity state; it is not a credential by itself.
type SessionMiddleware struct {
	cookieName string
	maxAge     time.Duration
	secure     bool
	store      SessionRotator
	logger     *zap.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware
func NewSessionMiddleware(cookieName string, maxAge time.Duration, secure bool, store SessionRotator, logger *zap.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		cookieName: cookieName,
		maxAge:     maxAge,
		secure:     secure,
		store:      store,
		logger:     logger,
	}
}

// Handler reuses a well-formed session cookie or issues a fresh one, and puts
// the session ID on the request context
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if cookie, err := r.Cookie(m.cookieName); err == nil {
			if id, err := uuid.Parse(cookie.Value); err == nil {
				sessionID = id.String()
			}
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			m.logger.Debug("issued session",
				zap.String("request_id", GetRequestIDFromContext(r.Context())))
		}

		m.setCookie(w, sessionID)

		ctx := identity.WithSessionID(r.Context(), sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Rotate issues a new session ID, moves the server-side state to it and
// replaces the cookie set by Handler. The returned request carries the new ID.
// Call it before the response is written.
func (m *SessionMiddleware) Rotate(w http.ResponseWriter, r *http.Request) *http.Request {
	oldID := identity.SessionIDFromContext(r.Context())
	newID := uuid.NewString()
	if oldID != "" && m.store != nil {
		m.store.Rotate(oldID, newID)
	}

	prefix := m.cookieName + "="
	var kept []string
	for _, c := range w.Header().Values("Set-Cookie") {
		if !strings.HasPrefix(c, prefix) {
			kept = append(kept, c)
		}
	}
	w.Header().Del("Set-Cookie")
	for _, c := range kept {
		w.Header().Add("Set-Cookie", c)
	}
	m.setCookie(w, newID)

	m.logger.Debug("rotated session",
		zap.String("request_id", GetRequestIDFromContext(r.Context())))
	return r.WithContext(identity.WithSessionID(r.Context(), newID))
}

// setCookie refreshes on every response so the cookie expires with the
// server-side idle TTL. Lax: the provider's redirect back to "/" is a
// cross-site top-level GET.
func (m *SessionMiddleware) setCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
