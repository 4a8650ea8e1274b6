package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService writes auth audit events through a pool of background workers
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	// Closing under the lock keeps LogEvent from sending on a closed channel
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("session_id", event.Log.SessionID))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("session_id", event.Log.SessionID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// RequestInfo is the request metadata attached to every audit row
type RequestInfo struct {
	SessionID string
	RequestID string
	IPAddress string
	UserAgent string
}

func (s *AuditService) newLog(info RequestInfo, action models.AuditAction) *models.AuditLog {
	return models.NewAuditLog(info.SessionID, action).
		WithRequest(info.RequestID, info.IPAddress, info.UserAgent)
}

// LogLoginRedirect logs the start of a hosted login
func (s *AuditService) LogLoginRedirect(info RequestInfo, err error) error {
	log := s.newLog(info, models.AuditActionLoginRedirect).WithError(err)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogLoginCallback logs the outcome of a redirect callback
func (s *AuditService) LogLoginCallback(info RequestInfo, subject string, err error) error {
	log := s.newLog(info, models.AuditActionLoginCallback).
		WithSubject(subject).
		WithError(err)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogLogout logs a logout
func (s *AuditService) LogLogout(info RequestInfo, subject string) error {
	log := s.newLog(info, models.AuditActionLogout).WithSubject(subject)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogProtectedAPICall logs a call to the protected API. A zero status means no
// response was received.
func (s *AuditService) LogProtectedAPICall(info RequestInfo, subject, endpoint string, status int, err error) error {
	log := s.newLog(info, models.AuditActionProtectedAPICall).
		WithSubject(subject).
		WithDetails(map[string]interface{}{"endpoint": endpoint}).
		WithError(err)
	if status != 0 {
		log.WithStatus(status)
	}
	return s.LogEvent(&AuditEvent{Log: log})
}
