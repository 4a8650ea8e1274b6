package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/middleware"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

const demoMessage = "Hello World From The Backend!"

// DemoHandler is the protected demo backend. It answers in the proxy
// integration envelope: the message is JSON encoded inside "body".
func DemoHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fields := []zap.Field{
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("user_id", r.URL.Query().Get("user_id")),
		}
		if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
			fields = append(fields, zap.String("sub", claims.Subject))
		}
		deps.Logger.Info("demo api called", fields...)

		body, err := json.Marshal(models.DemoMessage{Message: demoMessage})
		if err != nil {
			deps.Logger.Error("failed to encode demo message", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		_ = utils.WriteJSON(w, http.StatusOK, models.DemoEnvelope{
			StatusCode: http.StatusOK,
			Body:       string(body),
			Headers:    map[string]string{"content-type": "application/json"},
		})
	}
}
