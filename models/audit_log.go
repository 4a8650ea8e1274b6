package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of auth event being audited
type AuditAction string

const (
	AuditActionLoginRedirect    AuditAction = "login_redirect"
	AuditActionLoginCallback    AuditAction = "login_callback"
	AuditActionLogout           AuditAction = "logout"
	AuditActionProtectedAPICall AuditAction = "protected_api_call"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	SessionID    string          `json:"session_id" db:"session_id"`
	Subject      *string         `json:"subject,omitempty" db:"subject"` // Provider "sub" claim when known
	Action       AuditAction     `json:"action" db:"action"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	StatusCode   *int            `json:"status_code,omitempty" db:"status_code"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(sessionID string, action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		SessionID: sessionID,
		Action:    action,
		Details:   json.RawMessage(`{}`),
		Timestamp: time.Now(),
	}
}

// WithSubject sets the subject identifier
func (a *AuditLog) WithSubject(sub string) *AuditLog {
	if sub != "" {
		a.Subject = &sub
	}
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithStatus records the HTTP status of an outbound call
func (a *AuditLog) WithStatus(statusCode int) *AuditLog {
	a.StatusCode = &statusCode
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(err error) *AuditLog {
	if err != nil {
		msg := err.Error()
		a.ErrorMessage = &msg
	}
	return a
}
