// Package ledger is the append-only audit store for sessions and
// violations. Records are immutable once written: there is no update or
// delete path, and report queries are read-only folds.
package ledger

import (
	"context"
	"errors"
	"time"
)

// SentinelScope is the session id used for violations logged with no
// active session. Audit completeness outranks referential integrity:
// such violations are recorded, never dropped.
const SentinelScope = "unknown"

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// ErrSessionNotFound is returned by lookups for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Session is one exam session row.
type Session struct {
	ID          string     `gorm:"column:session_id;primaryKey;type:varchar(64)" json:"session_id"`
	StudentName string     `gorm:"column:student_name;type:varchar(128);not null" json:"student_name"`
	ExamName    string     `gorm:"column:exam_name;type:varchar(128);not null" json:"exam_name"`
	StartTime   time.Time  `gorm:"column:start_time;not null" json:"start_time"`
	EndTime     *time.Time `gorm:"column:end_time" json:"end_time,omitempty"`
	Status      string     `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
}

// TableName keeps the table name stable across drivers.
func (Session) TableName() string { return "sessions" }

// Violation is one typed, severity-scored anomaly record.
type Violation struct {
	ID           string    `gorm:"column:violation_id;primaryKey;type:varchar(36)" json:"violation_id"`
	SessionID    string    `gorm:"column:session_id;type:varchar(64);index" json:"session_id"`
	Timestamp    time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	Type         string    `gorm:"column:type;type:varchar(40);not null;index" json:"type"`
	Details      string    `gorm:"column:details;type:text" json:"details"`
	Severity     int       `gorm:"column:severity;not null" json:"severity"`
	EvidencePath string    `gorm:"column:evidence_path;type:varchar(256)" json:"evidence_path,omitempty"`
}

// TableName keeps the table name stable across drivers.
func (Violation) TableName() string { return "violations" }

// GroupBy selects the aggregation dimension.
type GroupBy string

const (
	GroupByType     GroupBy = "type"
	GroupBySeverity GroupBy = "severity"
	GroupByDate     GroupBy = "date"
)

// Valid reports whether g is a known dimension.
func (g GroupBy) Valid() bool {
	switch g {
	case GroupByType, GroupBySeverity, GroupByDate:
		return true
	}
	return false
}

// Bucket is one aggregation row.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Store is the persistence contract the engine requires. Appends must be
// atomic: concurrent writes never interleave partially.
type Store interface {
	RecordSession(ctx context.Context, s *Session) error
	CloseSession(ctx context.Context, id string, end time.Time) error
	GetSession(ctx context.Context, id string) (*Session, error)
	AppendViolation(ctx context.Context, v *Violation) error
	// QueryViolations returns up to limit violations for the session,
	// newest first. limit <= 0 means no limit.
	QueryViolations(ctx context.Context, sessionID string, limit int) ([]Violation, error)
	// Aggregate counts violations grouped by the given dimension,
	// optionally scoped to one session (empty id means all).
	Aggregate(ctx context.Context, sessionID string, groupBy GroupBy) ([]Bucket, error)
}
