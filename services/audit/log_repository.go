package audit

import (
	"context"

	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/repositories"
	"go.uber.org/zap"
)

// LogRepository is the AuditRepository used when no database is configured.
// Entries go to the structured log and cannot be read back.
type LogRepository struct {
	logger *zap.Logger
}

// NewLogRepository creates a new LogRepository
func NewLogRepository(logger *zap.Logger) repositories.AuditRepository {
	return &LogRepository{logger: logger.Named("audit")}
}

// Insert writes the entry to the log
func (r *LogRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	fields := []zap.Field{
		zap.String("id", log.ID.String()),
		zap.String("action", string(log.Action)),
		zap.String("session_id", log.SessionID),
		zap.String("request_id", log.RequestID),
		zap.String("ip_address", log.IPAddress),
		zap.Time("timestamp", log.Timestamp),
		zap.ByteString("details", log.Details),
	}
	if log.Subject != nil {
		fields = append(fields, zap.String("sub", *log.Subject))
	}
	if log.StatusCode != nil {
		fields = append(fields, zap.Int("status_code", *log.StatusCode))
	}
	if log.ErrorMessage != nil {
		fields = append(fields, zap.String("error", *log.ErrorMessage))
	}

	r.logger.Info("audit", fields...)
	return nil
}

// GetBySubject is not supported without a database
func (r *LogRepository) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error) {
	return nil, repositories.ErrHistoryUnavailable
}
