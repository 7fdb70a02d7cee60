// Package session owns the exam session lifecycle and the per-caller
// session scope that violation logging attributes against.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/invigil-ai/invigil/internal/ledger"
)

// ErrNoActiveSession is reported when EndSession is called with no active
// session in the caller's scope. It is a result, not a failure: the
// ledger is left untouched.
var ErrNoActiveSession = errors.New("no active session")

// Manager tracks one active session per caller. Lifecycle is strictly
// uncreated -> active -> completed; completed is terminal. Different
// callers' scopes are independent, so concurrent sessions never race on
// each other's state.
type Manager struct {
	store ledger.Store

	mu     sync.Mutex
	active map[string]string // caller id -> session id
}

// NewManager returns a manager persisting through the given ledger.
func NewManager(store ledger.Store) *Manager {
	return &Manager{
		store:  store,
		active: make(map[string]string),
	}
}

// Start creates a new session for the caller, persists it as active, and
// makes it the caller's implicit scope. Any previous scope for the caller
// is replaced (the old session row stays active in the ledger until
// explicitly ended; there is no implicit close).
func (m *Manager) Start(ctx context.Context, caller, studentName, examName string) (*ledger.Session, error) {
	sess := &ledger.Session{
		ID:          NewToken(),
		StudentName: studentName,
		ExamName:    examName,
		StartTime:   time.Now().UTC(),
		Status:      ledger.StatusActive,
	}
	if err := m.store.RecordSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	m.active[caller] = sess.ID
	m.mu.Unlock()

	return sess, nil
}

// End completes the caller's active session and clears the scope. With no
// active session it returns ErrNoActiveSession and leaves the ledger
// unchanged.
func (m *Manager) End(ctx context.Context, caller string) (string, error) {
	m.mu.Lock()
	id, ok := m.active[caller]
	m.mu.Unlock()
	if !ok {
		return "", ErrNoActiveSession
	}

	if err := m.store.CloseSession(ctx, id, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("end session %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.active, caller)
	m.mu.Unlock()

	return id, nil
}

// Scope returns the caller's active session id, or the sentinel scope
// when none is active. Frames submitted outside a session are still
// logged, never dropped.
func (m *Manager) Scope(caller string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[caller]; ok {
		return id
	}
	return ledger.SentinelScope
}

// NewToken returns an unguessable session identifier: 16 bytes of
// crypto/rand entropy, hex encoded.
func NewToken() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; keep the
		// zeroed buffer rather than panic in the request path.
		return hex.EncodeToString(buf[:])
	}
	return hex.EncodeToString(buf[:])
}
