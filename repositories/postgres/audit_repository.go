package postgres

import (
	"context"
	"fmt"

	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, session_id, subject, action, details, ip_address, user_agent,
		       request_id, timestamp, status_code, error_message`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO auth_audit_logs (
			id, session_id, subject, action, details, ip_address, user_agent,
			request_id, timestamp, status_code, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.SessionID,
		log.Subject,
		log.Action,
		[]byte(log.Details),
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
		log.StatusCode,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetBySubject retrieves audit logs for a provider subject with pagination
func (r *AuditRepository) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE subject = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, subject, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var details []byte
		if err := rows.Scan(
			&log.ID,
			&log.SessionID,
			&log.Subject,
			&log.Action,
			&details,
			&log.IPAddress,
			&log.UserAgent,
			&log.RequestID,
			&log.Timestamp,
			&log.StatusCode,
			&log.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Details = details
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}
