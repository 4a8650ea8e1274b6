package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/auth-session/auth"
	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

// HandleAuthError maps controller and identity errors to HTTP responses
func HandleAuthError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var authErr *identity.AuthenticationError

	switch {
	case errors.Is(err, identity.ErrInvalidState), errors.Is(err, identity.ErrInvalidNonce):
		logger.Warn("rejected login callback", zap.Error(err))
		if err := utils.WriteBadRequest(w, "Invalid or expired login state", nil); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case errors.As(err, &authErr):
		logger.Warn("provider reported an authentication error",
			zap.String("code", authErr.Code),
			zap.String("description", authErr.Description))
		if err := utils.WriteUnauthorized(w, authErr.Error()); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case errors.Is(err, identity.ErrLoginRequired), errors.Is(err, identity.ErrNoSession):
		if err := utils.WriteUnauthorized(w, "Login required"); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case errors.Is(err, auth.ErrUnexpectedStatus):
		logger.Error("upstream call failed", zap.Error(err))
		if err := utils.WriteBadGateway(w, err.Error()); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	default:
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}
