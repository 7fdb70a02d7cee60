// Package report builds read-only projections over the audit ledger.
// Reports never mutate stored records; running the same report twice
// over an unchanged ledger yields identical output.
package report

import (
	"context"
	"fmt"

	"github.com/invigil-ai/invigil/internal/ledger"
)

// SessionSummary is the integrity report for one exam session.
type SessionSummary struct {
	Session        *ledger.Session    `json:"session"`
	Total          int                `json:"total_violations"`
	ByType         map[string]int     `json:"by_type"`
	BySeverity     map[string]int     `json:"by_severity"`
	IntegrityScore int                `json:"integrity_score"`
	Violations     []ledger.Violation `json:"violations,omitempty"`
}

// severityPenalty is the score deduction per severity point.
const severityPenalty = 5

// BuildSessionSummary folds a session's violations into the summary.
// The integrity score starts at 100 and loses 5 points per severity
// point across all violations, floored at 0.
func BuildSessionSummary(ctx context.Context, store ledger.Store, sessionID string) (*SessionSummary, error) {
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	violations, err := store.QueryViolations(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}

	s := &SessionSummary{
		Session:    sess,
		Total:      len(violations),
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
		Violations: violations,
	}

	score := 100
	for _, v := range violations {
		s.ByType[v.Type]++
		s.BySeverity[fmt.Sprintf("%d", v.Severity)]++
		score -= severityPenalty * v.Severity
	}
	if score < 0 {
		score = 0
	}
	s.IntegrityScore = score

	return s, nil
}

// Aggregate is a thin validated wrapper over the ledger's grouped count.
func Aggregate(ctx context.Context, store ledger.Store, sessionID string, groupBy ledger.GroupBy) ([]ledger.Bucket, error) {
	if !groupBy.Valid() {
		return nil, fmt.Errorf("unknown group_by %q", groupBy)
	}
	return store.Aggregate(ctx, sessionID, groupBy)
}
