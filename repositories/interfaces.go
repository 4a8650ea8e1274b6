package repositories

import (
	"context"
	"errors"

	"github.com/upb/auth-session/models"
)

// ErrHistoryUnavailable is returned by audit sinks that cannot be read back
var ErrHistoryUnavailable = errors.New("audit history unavailable")

// AuditRepository defines persistence for the auth audit trail
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetBySubject retrieves audit logs for a provider subject, newest first
	GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error)
}
