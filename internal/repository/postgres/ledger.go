package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

var (
	_ repository.LedgerRepository       = (*DB)(nil)
	_ repository.PaymentEventRepository = (*DB)(nil)
)

func (db *DB) Append(ctx context.Context, e *model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO credits_log
		   (id, user_id, action, amount, description, credits_before, credits_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID,
		e.UserID,
		string(e.Action),
		e.Amount,
		e.Description,
		e.CreditsBefore,
		e.CreditsAfter,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: appending ledger entry for %s: %w", e.UserID, err)
	}
	return nil
}

func (db *DB) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.LedgerEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(opts.Offset, 0)

	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, action, amount, description, credits_before, credits_after, created_at
		 FROM credits_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing ledger for %s: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]model.LedgerEntry, 0, limit)
	for rows.Next() {
		var (
			e      model.LedgerEntry
			action string
		)
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&action,
			&e.Amount,
			&e.Description,
			&e.CreditsBefore,
			&e.CreditsAfter,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scanning ledger entry: %w", err)
		}
		e.Action = model.CreditAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating ledger: %w", err)
	}
	return entries, nil
}

func (db *DB) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO payment_events (event_id, event_type) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: claiming payment event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) ReleaseEvent(ctx context.Context, eventID string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM payment_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("postgres: releasing payment event %s: %w", eventID, err)
	}
	return nil
}
