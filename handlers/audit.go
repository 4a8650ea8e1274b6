package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/middleware"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/repositories"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// AuditHistoryHandler returns the caller's own auth events, newest first.
// The subject comes from the validated bearer token.
func AuditHistoryHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetClaimsFromContext(r.Context())
		if claims == nil {
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		limit, err := queryInt(r, "limit", defaultHistoryLimit)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 200", nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
			return
		}

		logs, err := deps.AuditLogs.GetBySubject(r.Context(), claims.Subject, limit, offset)
		if errors.Is(err, repositories.ErrHistoryUnavailable) {
			_ = utils.WriteServiceUnavailable(w, "Audit history requires a database")
			return
		}
		if err != nil {
			deps.Logger.Error("failed to read audit history",
				zap.String("sub", claims.Subject),
				zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		if logs == nil {
			logs = []*models.AuditLog{}
		}

		_ = utils.WriteOK(w, map[string]interface{}{
			"events": logs,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
