package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQL is the gorm-backed ledger. SQLite covers single-node deployments;
// Postgres is for shared ones.
type SQL struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*SQL, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "invigil.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("ledger: postgres driver requires a dsn")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&Session{}, &Violation{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) RecordSession(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("ledger: record session: %w", err)
	}
	return nil
}

func (s *SQL) CloseSession(ctx context.Context, id string, end time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_id = ? AND status = ?", id, StatusActive).
		Updates(map[string]any{"end_time": end, "status": StatusCompleted})
	if res.Error != nil {
		return fmt.Errorf("ledger: close session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQL) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).First(&sess, "session_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get session: %w", err)
	}
	return &sess, nil
}

func (s *SQL) AppendViolation(ctx context.Context, v *Violation) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("ledger: append violation: %w", err)
	}
	return nil
}

func (s *SQL) QueryViolations(ctx context.Context, sessionID string, limit int) ([]Violation, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC, violation_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Violation
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: query violations: %w", err)
	}
	return out, nil
}

func (s *SQL) Aggregate(ctx context.Context, sessionID string, groupBy GroupBy) ([]Bucket, error) {
	if !groupBy.Valid() {
		return nil, fmt.Errorf("ledger: unknown group_by %q", groupBy)
	}

	keyExpr := ""
	switch groupBy {
	case GroupByType:
		keyExpr = "type"
	case GroupBySeverity:
		keyExpr = "severity"
	case GroupByDate:
		if s.db.Dialector.Name() == "postgres" {
			keyExpr = "to_char(timestamp, 'YYYY-MM-DD')"
		} else {
			keyExpr = "strftime('%Y-%m-%d', timestamp)"
		}
	}

	q := s.db.WithContext(ctx).
		Model(&Violation{}).
		Select(keyExpr + " AS key, count(*) AS count").
		Group(keyExpr).
		Order("key")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}

	var out []Bucket
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: aggregate: %w", err)
	}
	return out, nil
}
