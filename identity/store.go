package identity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type sessionContextKey struct{}

// WithSessionID binds a browser session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext returns the browser session ID bound to the context
func SessionIDFromContext(ctx context.Context) string {
	if val := ctx.Value(sessionContextKey{}); val != nil {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// Transaction is a pending login: the values sent to /authorize that the
// callback must echo back or prove.
type Transaction struct {
	State       string
	Nonce       string
	Verifier    string
	RedirectURI string
	CreatedAt   time.Time
}

// TokenSet holds the tokens for a logged-in browser session
type TokenSet struct {
	AccessToken string
	IDToken     string
	Expiry      time.Time
	User        *User
}

// Valid reports whether the access token is present and unexpired at now
func (t *TokenSet) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

type sessionEntry struct {
	tx       *Transaction
	tokens   *TokenSet
	lastSeen time.Time
}

// MemoryStore keeps per-browser login transactions and tokens in process memory.
// Nothing survives a restart.
type MemoryStore struct {
	mu             sync.Mutex
	sessions       map[string]*sessionEntry
	transactionTTL time.Duration
	idleTTL        time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewMemoryStore creates a store. transactionTTL bounds how long a login may stay
// pending; idleTTL bounds how long an untouched session is kept.
func NewMemoryStore(transactionTTL, idleTTL time.Duration, logger *zap.Logger) *MemoryStore {
	if transactionTTL <= 0 {
		transactionTTL = 10 * time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	return &MemoryStore{
		sessions:       make(map[string]*sessionEntry),
		transactionTTL: transactionTTL,
		idleTTL:        idleTTL,
		now:            time.Now,
		logger:         logger,
	}
}

func (s *MemoryStore) entry(sessionID string) *sessionEntry {
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &sessionEntry{}
		s.sessions[sessionID] = e
	}
	e.lastSeen = s.now()
	return e
}

// PutTransaction records a pending login, replacing any earlier one
func (s *MemoryStore) PutTransaction(sessionID string, tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.CreatedAt = s.now()
	s.entry(sessionID).tx = tx
}

// TakeTransaction removes and returns the pending login. Expired transactions
// are discarded and reported as absent.
func (s *MemoryStore) TakeTransaction(sessionID string) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.tx == nil {
		return nil, false
	}
	tx := e.tx
	e.tx = nil
	if s.now().Sub(tx.CreatedAt) > s.transactionTTL {
		return nil, false
	}
	return tx, true
}

// PutTokens stores the tokens of a completed login
func (s *MemoryStore) PutTokens(sessionID string, tokens *TokenSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(sessionID).tokens = tokens
}

// Tokens returns the tokens of a session, if any
func (s *MemoryStore) Tokens(sessionID string) (*TokenSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.tokens == nil {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.tokens, true
}

// Delete forgets everything about a session
func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Rotate moves a session's state to newID. Callers rotate after login so a
// session ID seen before authentication never carries tokens.
func (s *MemoryStore) Rotate(oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[oldID]
	if !ok || oldID == newID {
		return
	}
	delete(s.sessions, oldID)
	e.lastSeen = s.now()
	s.sessions[newID] = e
}

// Len returns the number of tracked sessions
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops idle sessions and returns how many were removed
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.Sub(e.lastSeen) > s.idleTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle sessions every interval until ctx is cancelled
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && s.logger != nil {
				s.logger.Debug("swept idle sessions",
					zap.Int("removed", n),
					zap.Int("active", s.Len()))
			}
		}
	}
}
