package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-session/identity"
	"go.uber.org/zap"
)

func TestSessionMiddleware(t *testing.T) {
	m := NewSessionMiddleware("auth_session", time.Hour, false, nil, zap.NewNop())

	var seen string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = identity.SessionIDFromContext(r.Context())
	}))

	t.Run("issues a session when none is present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		_, err := uuid.Parse(seen)
		require.NoError(t, err)

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "auth_session", cookies[0].Name)
		assert.Equal(t, seen, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		assert.Equal(t, 3600, cookies[0].MaxAge)
	})

	t.Run("reuses an existing session", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "auth_session", Value: id})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, id, seen)
	})

	t.Run("replaces a malformed session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "auth_session", Value: "forged"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.NotEqual(t, "forged", seen)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
	})
}

type rotations struct {
	from, to string
}

func (r *rotations) Rotate(oldID, newID string) {
	r.from, r.to = oldID, newID
}

func TestSessionMiddleware_Rotate(t *testing.T) {
	store := &rotations{}
	m := NewSessionMiddleware("auth_session", time.Hour, false, store, zap.NewNop())

	oldID := uuid.NewString()
	var rotatedID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "other", Value: "kept"})
		r = m.Rotate(w, r)
		rotatedID = identity.SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth_session", Value: oldID})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.NotEqual(t, oldID, rotatedID)
	assert.Equal(t, oldID, store.from)
	assert.Equal(t, rotatedID, store.to)

	values := map[string][]string{}
	for _, c := range w.Result().Cookies() {
		values[c.Name] = append(values[c.Name], c.Value)
	}
	assert.Equal(t, []string{rotatedID}, values["auth_session"])
	assert.Equal(t, []string{"kept"}, values["other"])
}
