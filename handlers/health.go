package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/auth-session/app"
	"go.uber.org/zap"
)

// HealthCheck returns a simple health check handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessCheck reports on the database and the auth session. A session that
// is not configured yet is not a failure: it is configured on first page load.
// Neither is a cold JWKS cache.
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		response := map[string]interface{}{
			"status": "ready",
			"checks": checks,
		}

		if deps.DB == nil {
			checks["database"] = "disabled"
		} else if err := deps.DB.HealthCheck(ctx); err != nil {
			response["status"] = "not_ready"
			checks["database"] = "unhealthy"
			deps.Logger.Error("database health check failed", zap.Error(err))
		} else {
			checks["database"] = "healthy"
		}

		if deps.Controller == nil {
			response["status"] = "not_ready"
			checks["auth"] = "not_initialized"
		} else if _, ok := deps.Controller.Session(); ok {
			checks["auth"] = "configured"
		} else {
			checks["auth"] = "pending"
		}

		if deps.Sessions != nil {
			response["sessions"] = deps.Sessions.Len()
		}

		if deps.TokenValidator == nil {
			checks["jwks"] = "disabled"
		} else {
			stats := deps.TokenValidator.Stats()
			if stats.Warm {
				checks["jwks"] = "cached"
			} else {
				checks["jwks"] = "cold"
			}
			response["jwks"] = stats
		}

		if deps.Audit != nil {
			stats := deps.Audit.GetStats()
			if stats.Started {
				checks["audit"] = "running"
			} else {
				checks["audit"] = "stopped"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if response["status"] == "ready" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}
