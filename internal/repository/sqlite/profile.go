package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `id, auth_user_id, email, name, avatar_url, provider,
	stripe_customer_id, subscription_status, subscription_tier,
	subscription_start_date, subscription_end_date,
	credits_remaining, total_credits_purchased, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var (
		p        model.Profile
		customer sql.NullString
		start    sql.NullTime
		end      sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.AuthUserID,
		&p.Email,
		&p.Name,
		&p.AvatarURL,
		&p.Provider,
		&customer,
		&p.SubscriptionStatus,
		&p.SubscriptionTier,
		&start,
		&end,
		&p.CreditsRemaining,
		&p.TotalCreditsPurchased,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customer.Valid {
		p.StripeCustomerID = &customer.String
	}
	if start.Valid {
		p.SubscriptionStartDate = &start.Time
	}
	if end.Valid {
		p.SubscriptionEndDate = &end.Time
	}
	return &p, nil
}

// GetByAuthUserID retrieves a profile by the identity provider's user id.
// Returns apperror.ErrNotFound if no profile exists for that identity.
func (db *DB) GetByAuthUserID(ctx context.Context, authUserID string) (*model.Profile, error) {
	return db.getProfile(ctx, db.conn, authUserID)
}

// querier lets the same lookup run on the pool or inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getProfile(ctx context.Context, q querier, authUserID string) (*model.Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE auth_user_id = ?`,
		authUserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", authUserID)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", authUserID, err)
	}
	return p, nil
}

// InsertOrFetch inserts a new profile unless one already exists for the same
// auth_user_id, then reads the stored row back.
//
// ON CONFLICT DO NOTHING:
// Two reconciliations racing for the same identity both run this INSERT.
// The UNIQUE constraint lets exactly one succeed; the other affects zero rows
// and simply reads the winner's row. No error is raised, so callers never see
// a duplicate-key failure and the winner's credits are never reset.
func (db *DB) InsertOrFetch(ctx context.Context, p *model.Profile) (*model.Profile, bool, error) {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = xid.New().String()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(auth_user_id) DO NOTHING`,
		id,
		p.AuthUserID,
		p.Email,
		p.Name,
		p.AvatarURL,
		p.Provider,
		p.StripeCustomerID,
		p.SubscriptionStatus,
		p.SubscriptionTier,
		p.SubscriptionStartDate,
		p.SubscriptionEndDate,
		p.CreditsRemaining,
		p.TotalCreditsPurchased,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: inserting profile (authUserID=%s): %w", p.AuthUserID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: inserting profile (authUserID=%s): %w", p.AuthUserID, err)
	}

	stored, err := db.GetByAuthUserID(ctx, p.AuthUserID)
	if err != nil {
		return nil, false, err
	}
	return stored, affected == 1, nil
}

// UpdateDisplay refreshes name, avatar_url and updated_at. Credit and
// subscription columns are not part of the statement.
func (db *DB) UpdateDisplay(ctx context.Context, authUserID, name, avatarURL string) (*model.Profile, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user_profiles SET name = ?, avatar_url = ?, updated_at = ?
		 WHERE auth_user_id = ?`,
		name,
		avatarURL,
		time.Now().UTC(),
		authUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating profile %s: %w", authUserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("profile", authUserID)
	}
	return db.GetByAuthUserID(ctx, authUserID)
}

// MutateCredits runs a read-modify-write of the credit counters inside one
// transaction. With the pool capped at a single connection no other
// statement can interleave, so concurrent mutations cannot lose updates.
func (db *DB) MutateCredits(ctx context.Context, authUserID string, fn repository.CreditMutation) (*model.Profile, *model.Profile, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: beginning credit transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	before, err := db.getProfile(ctx, tx, authUserID)
	if err != nil {
		return nil, nil, err
	}

	remaining, purchased, err := fn(before.CreditsRemaining, before.TotalCreditsPurchased)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE user_profiles
		 SET credits_remaining = ?, total_credits_purchased = ?, updated_at = ?
		 WHERE auth_user_id = ?`,
		remaining,
		purchased,
		time.Now().UTC(),
		authUserID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: updating credits for %s: %w", authUserID, err)
	}

	after, err := db.getProfile(ctx, tx, authUserID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("sqlite: committing credits for %s: %w", authUserID, err)
	}
	return before, after, nil
}

// UpdateSubscription overwrites only the supplied subscription columns.
func (db *DB) UpdateSubscription(ctx context.Context, authUserID string, upd model.SubscriptionUpdate) (*model.Profile, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.StripeCustomerID != nil {
		sets = append(sets, "stripe_customer_id = ?")
		args = append(args, *upd.StripeCustomerID)
	}
	if upd.Status != nil {
		sets = append(sets, "subscription_status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Tier != nil {
		sets = append(sets, "subscription_tier = ?")
		args = append(args, string(*upd.Tier))
	}
	if upd.StartDate != nil {
		sets = append(sets, "subscription_start_date = ?")
		args = append(args, upd.StartDate.UTC())
	}
	if upd.EndDate != nil {
		sets = append(sets, "subscription_end_date = ?")
		args = append(args, upd.EndDate.UTC())
	}
	args = append(args, authUserID)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE user_profiles SET `+strings.Join(sets, ", ")+` WHERE auth_user_id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating subscription for %s: %w", authUserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("profile", authUserID)
	}
	return db.GetByAuthUserID(ctx, authUserID)
}
