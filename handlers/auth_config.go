package handlers

import (
	"net/http"
	"os"

	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

// AuthConfigHandler serves the client configuration file at /auth_config.json
func AuthConfigHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := deps.Config.Auth.ConfigFile

		f, err := os.Open(path)
		if err != nil {
			deps.Logger.Error("auth config unavailable", zap.String("file", path), zap.Error(err))
			_ = utils.WriteNotFound(w, "Auth configuration not found")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			deps.Logger.Error("failed to stat auth config", zap.String("file", path), zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "auth_config.json", info.ModTime(), f)
	}
}
