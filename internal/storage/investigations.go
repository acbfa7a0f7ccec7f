package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/opsgrid/inquest/internal/model"
)

// retryBase is the backoff seed for transient-conflict retries on writes.
const retryBase = 50 * time.Millisecond

// CreateInvestigation inserts a new investigation row in its initial running state.
func (db *DB) CreateInvestigation(ctx context.Context, inv *model.Investigation) error {
	err := WithRetry(ctx, 3, retryBase, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO investigations (id, input, status, attempts, steps, started_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inv.ID, inv.Input, inv.Status, inv.Attempts, inv.Steps, inv.StartedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: create investigation: %w", err)
	}
	return nil
}

// CompleteInvestigation records the terminal outcome of an investigation.
func (db *DB) CompleteInvestigation(ctx context.Context, inv *model.Investigation) error {
	err := WithRetry(ctx, 3, retryBase, func() error {
		tag, err := db.pool.Exec(ctx, `
			UPDATE investigations
			SET conversation_id = $2,
			    status = $3,
			    attempts = $4,
			    steps = $5,
			    final_report = $6,
			    failure_detail = $7,
			    completed_at = $8
			WHERE id = $1
		`, inv.ID, nullStr(inv.ConversationID), inv.Status, inv.Attempts, inv.Steps,
			nullStr(inv.FinalReport), nullStr(inv.FailureDetail), inv.CompletedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// The create may have failed earlier; upsert so the terminal
			// record survives regardless.
			_, err = db.pool.Exec(ctx, `
				INSERT INTO investigations
					(id, input, conversation_id, status, attempts, steps, final_report, failure_detail, started_at, completed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO NOTHING
			`, inv.ID, inv.Input, nullStr(inv.ConversationID), inv.Status, inv.Attempts, inv.Steps,
				nullStr(inv.FinalReport), nullStr(inv.FailureDetail), inv.StartedAt, inv.CompletedAt)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: complete investigation: %w", err)
	}
	return nil
}

// RecentInvestigations returns the most recently started investigations,
// newest first, capped at limit.
func (db *DB) RecentInvestigations(ctx context.Context, limit int) ([]model.Investigation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, input, COALESCE(conversation_id, ''), status, attempts, steps,
		       COALESCE(final_report, ''), COALESCE(failure_detail, ''), started_at, completed_at
		FROM investigations
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query recent investigations: %w", err)
	}
	defer rows.Close()

	var out []model.Investigation
	for rows.Next() {
		var inv model.Investigation
		if err := rows.Scan(
			&inv.ID, &inv.Input, &inv.ConversationID, &inv.Status, &inv.Attempts, &inv.Steps,
			&inv.FinalReport, &inv.FailureDetail, &inv.StartedAt, &inv.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan investigation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate investigations: %w", err)
	}
	return out, nil
}

// nullStr maps "" to SQL NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
