// Package session implements the connection-id to user-id mapping of
// spec.md §4.5: token-store-backed authentication, idle expiry, and
// idempotent re-authentication, all behind one lock so the matching
// goroutines never touch it. Grounded on the Redis-backed session table in
// _examples/original_source/src/api/AuthenticationManager.h, adapted from a
// single global map-of-sessions into this package's Manager.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/store"
	"equityexchange/tokenstore"
)

// DefaultIdleThreshold is how long a session may sit unused before
// expire_idle prunes it (spec.md §3).
const DefaultIdleThreshold = 30 * time.Minute

// ErrAlreadyAuthenticated is returned by Authenticate, together with the
// existing user id, when conn_id already has a live session. The session is
// left unchanged, so re-authentication is idempotent; callers treat this
// error as a successful login.
var ErrAlreadyAuthenticated = errors.New("session: already authenticated")

// ErrUnknownToken is returned when the token store has no mapping for the
// presented token.
var ErrUnknownToken = errors.New("session: unknown token")

// AccountLoader ensures a user's account is resident before a session is
// considered usable (spec.md §4.5's "ensure the account is loaded" step).
// account.Manager.Load, which also returns the account, is adapted to this
// through LoaderFunc.
type AccountLoader interface {
	Load(ctx context.Context, userID domain.UserID) error
}

type loaderFunc func(ctx context.Context, userID domain.UserID) error

func (f loaderFunc) Load(ctx context.Context, userID domain.UserID) error { return f(ctx, userID) }

// LoaderFunc adapts a plain function to AccountLoader.
func LoaderFunc(f func(ctx context.Context, userID domain.UserID) error) AccountLoader {
	return loaderFunc(f)
}

// SecurityRecorder audits authentication failures (spec.md §4.6): an
// unknown token, a token-store outage, or a failed account load are all
// signals worth a durable record, distinct from the routine idle-expiry
// churn ExpireIdle logs through the regular logger.
type SecurityRecorder interface {
	RecordSecurityEvent(ctx context.Context, ev store.SecurityEvent) error
}

// noopSecurityRecorder discards everything; used when a Manager is wired
// without a durable store (e.g. in tests).
type noopSecurityRecorder struct{}

func (noopSecurityRecorder) RecordSecurityEvent(context.Context, store.SecurityEvent) error {
	return nil
}

type record struct {
	userID        domain.UserID
	authenticated bool
	lastActivity  time.Time
}

// Manager tracks one session per live connection id.
type Manager struct {
	tokens  tokenstore.Store
	loader  AccountLoader
	audit   SecurityRecorder
	logger  *zap.Logger
	idle    time.Duration

	mu       sync.Mutex
	sessions map[domain.ConnectionID]*record
}

// NewManager constructs a session Manager. loader and audit may both be
// nil: loader if the caller handles account residency itself, audit if no
// durable store is wired (e.g. in tests), in which case auth failures are
// simply not recorded.
func NewManager(tokens tokenstore.Store, loader AccountLoader, audit SecurityRecorder, logger *zap.Logger, idleThreshold time.Duration) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = noopSecurityRecorder{}
	}
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	return &Manager{
		tokens:   tokens,
		loader:   loader,
		audit:    audit,
		logger:   logger,
		idle:     idleThreshold,
		sessions: make(map[domain.ConnectionID]*record),
	}
}

// Authenticate resolves token via the token store and records a session for
// connID. It may block on I/O (token lookup, account load) and must be
// called off the matching thread (spec.md §4.5's detail floor).
func (m *Manager) Authenticate(ctx context.Context, connID domain.ConnectionID, token string) (domain.UserID, error) {
	if m.IsAuthenticated(connID) {
		userID, _ := m.UserID(connID)
		return userID, ErrAlreadyAuthenticated
	}

	userID, ok, err := m.tokens.Lookup(ctx, token)
	if err != nil {
		m.auditAuthFailure(ctx, "", "auth_token_store_error", err.Error())
		return "", err
	}
	if !ok {
		m.auditAuthFailure(ctx, "", "auth_unknown_token", "presented token has no session mapping")
		return "", ErrUnknownToken
	}

	if m.loader != nil {
		if err := m.loader.Load(ctx, userID); err != nil {
			m.auditAuthFailure(ctx, userID, "auth_account_load_failed", err.Error())
			return "", err
		}
	}

	m.mu.Lock()
	m.sessions[connID] = &record{userID: userID, authenticated: true, lastActivity: time.Now()}
	m.mu.Unlock()
	return userID, nil
}

// auditAuthFailure records a failed authentication attempt. Best-effort: a
// record failure is logged but never changes the caller's auth outcome.
func (m *Manager) auditAuthFailure(ctx context.Context, userID domain.UserID, kind, detail string) {
	if err := m.audit.RecordSecurityEvent(ctx, store.SecurityEvent{
		UserID:      userID,
		Kind:        kind,
		Detail:      detail,
		TimestampMs: domain.NowMs(),
	}); err != nil {
		m.logger.Warn("security event record failed", zap.Error(err), zap.String("kind", kind))
	}
}

// IsAuthenticated reports whether connID has a live, authenticated session.
func (m *Manager) IsAuthenticated(connID domain.ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[connID]
	return ok && r.authenticated
}

// UserID returns the authenticated user for connID.
func (m *Manager) UserID(connID domain.ConnectionID) (domain.UserID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[connID]
	if !ok || !r.authenticated {
		return "", false
	}
	return r.userID, true
}

// Touch records activity on connID's session, resetting its idle clock.
func (m *Manager) Touch(connID domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[connID]; ok {
		r.lastActivity = time.Now()
	}
}

// Drop removes connID's session, e.g. on transport disconnect. This MUST be
// called on disconnect: leaving a stale session live would let a new
// connection that is handed the same connection id inherit someone else's
// identity (spec.md §4.5).
func (m *Manager) Drop(connID domain.ConnectionID) {
	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}

// ExpireIdle removes every session whose last activity predates the
// configured idle threshold, returning the connection ids removed.
func (m *Manager) ExpireIdle() []domain.ConnectionID {
	cutoff := time.Now().Add(-m.idle)
	var expired []domain.ConnectionID
	m.mu.Lock()
	for id, r := range m.sessions {
		if r.lastActivity.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	if len(expired) > 0 {
		m.logger.Info("pruned idle sessions", zap.Int("count", len(expired)))
	}
	return expired
}

// RunIdleSweep blocks, pruning idle sessions every interval until ctx is
// done.
func (m *Manager) RunIdleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireIdle()
		}
	}
}
