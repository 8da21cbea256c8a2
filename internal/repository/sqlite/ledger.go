package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

var (
	_ repository.LedgerRepository       = (*DB)(nil)
	_ repository.PaymentEventRepository = (*DB)(nil)
)

// Append stores a credits_log entry. ID and CreatedAt are filled in when
// the caller left them empty.
func (db *DB) Append(ctx context.Context, e *model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credits_log
		   (id, user_id, action, amount, description, credits_before, credits_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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
		return fmt.Errorf("sqlite: appending ledger entry for %s: %w", e.UserID, err)
	}
	return nil
}

// ListByUser returns a user's ledger entries, newest first.
func (db *DB) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.LedgerEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(opts.Offset, 0)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, action, amount, description, credits_before, credits_after, created_at
		 FROM credits_log
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ledger for %s: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]model.LedgerEntry, 0, limit)
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Action,
			&e.Amount,
			&e.Description,
			&e.CreditsBefore,
			&e.CreditsAfter,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ledger: %w", err)
	}
	return entries, nil
}

// ClaimEvent records a payment event id. The PRIMARY KEY makes the second
// claim for the same id a no-op, which is how duplicate webhook deliveries
// are detected.
func (db *DB) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, event_type, processed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		eventID,
		eventType,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: claiming payment event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: claiming payment event %s: %w", eventID, err)
	}
	return n == 1, nil
}

func (db *DB) ReleaseEvent(ctx context.Context, eventID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM payment_events WHERE event_id = ?`, eventID,
	); err != nil {
		return fmt.Errorf("sqlite: releasing payment event %s: %w", eventID, err)
	}
	return nil
}
