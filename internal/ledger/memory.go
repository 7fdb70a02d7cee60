package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process ledger with the same append-only semantics as
// the SQL store. It backs tests and the "memory" storage driver.
type Memory struct {
	mu         sync.Mutex
	sessions   map[string]Session
	violations []Violation
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Session)}
}

func (m *Memory) RecordSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("ledger: session %s already recorded", s.ID)
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) CloseSession(_ context.Context, id string, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return ErrSessionNotFound
	}
	s.EndTime = &end
	s.Status = StatusCompleted
	m.sessions[id] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := s
	return &out, nil
}

func (m *Memory) AppendViolation(_ context.Context, v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, *v)
	return nil
}

func (m *Memory) QueryViolations(_ context.Context, sessionID string, limit int) ([]Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Violation, 0)
	for _, v := range m.violations {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	// Newest first; id breaks timestamp ties so ordering is stable.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Aggregate(_ context.Context, sessionID string, groupBy GroupBy) ([]Bucket, error) {
	if !groupBy.Valid() {
		return nil, fmt.Errorf("ledger: unknown group_by %q", groupBy)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	for _, v := range m.violations {
		if sessionID != "" && v.SessionID != sessionID {
			continue
		}
		var key string
		switch groupBy {
		case GroupByType:
			key = v.Type
		case GroupBySeverity:
			key = strconv.Itoa(v.Severity)
		case GroupByDate:
			key = v.Timestamp.UTC().Format("2006-01-02")
		}
		counts[key]++
	}

	out := make([]Bucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, Bucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ViolationCount reports the total number of appended violations.
// Test helper.
func (m *Memory) ViolationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}
