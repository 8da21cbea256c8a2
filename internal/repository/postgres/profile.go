package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/model"
	"github.com/sakif/reroom-bff/internal/repository"
)

var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `id, auth_user_id, email, name, avatar_url, provider,
	stripe_customer_id, subscription_status, subscription_tier,
	subscription_start_date, subscription_end_date,
	credits_remaining, total_credits_purchased, created_at, updated_at`

// rowQuerier is implemented by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var (
		p      model.Profile
		id     uuid.UUID
		status string
		tier   string
	)
	err := row.Scan(
		&id,
		&p.AuthUserID,
		&p.Email,
		&p.Name,
		&p.AvatarURL,
		&p.Provider,
		&p.StripeCustomerID,
		&status,
		&tier,
		&p.SubscriptionStartDate,
		&p.SubscriptionEndDate,
		&p.CreditsRemaining,
		&p.TotalCreditsPurchased,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID = id.String()
	p.SubscriptionStatus = model.SubscriptionStatus(status)
	p.SubscriptionTier = model.SubscriptionTier(tier)
	return &p, nil
}

func getProfile(ctx context.Context, q rowQuerier, query, authUserID string, args ...any) (*model.Profile, error) {
	p, err := scanProfile(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("profile", authUserID)
		}
		return nil, fmt.Errorf("postgres: reading profile %s: %w", authUserID, err)
	}
	return p, nil
}

func (db *DB) GetByAuthUserID(ctx context.Context, authUserID string) (*model.Profile, error) {
	return getProfile(ctx, db.pool,
		`SELECT `+profileColumns+` FROM user_profiles WHERE auth_user_id = $1`,
		authUserID, authUserID)
}

// InsertOrFetch relies on the UNIQUE(auth_user_id) constraint: the losing
// side of a race inserts nothing and reads the winner's row.
func (db *DB) InsertOrFetch(ctx context.Context, p *model.Profile) (*model.Profile, bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO user_profiles (
			id, auth_user_id, email, name, avatar_url, provider,
			stripe_customer_id, subscription_status, subscription_tier,
			subscription_start_date, subscription_end_date,
			credits_remaining, total_credits_purchased)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (auth_user_id) DO NOTHING`,
		uuid.New(),
		p.AuthUserID,
		p.Email,
		p.Name,
		p.AvatarURL,
		p.Provider,
		p.StripeCustomerID,
		string(p.SubscriptionStatus),
		string(p.SubscriptionTier),
		p.SubscriptionStartDate,
		p.SubscriptionEndDate,
		p.CreditsRemaining,
		p.TotalCreditsPurchased,
	)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: inserting profile (authUserID=%s): %w", p.AuthUserID, err)
	}

	stored, err := db.GetByAuthUserID(ctx, p.AuthUserID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (db *DB) UpdateDisplay(ctx context.Context, authUserID, name, avatarURL string) (*model.Profile, error) {
	return getProfile(ctx, db.pool,
		`UPDATE user_profiles SET name = $1, avatar_url = $2, updated_at = NOW()
		 WHERE auth_user_id = $3
		 RETURNING `+profileColumns,
		authUserID, name, avatarURL, authUserID)
}

// MutateCredits locks the row with SELECT ... FOR UPDATE so concurrent
// mutations for the same user queue behind each other instead of losing
// updates. The lock is held only for the two statements below.
func (db *DB) MutateCredits(ctx context.Context, authUserID string, fn repository.CreditMutation) (*model.Profile, *model.Profile, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: beginning credit transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after Commit

	before, err := getProfile(ctx, tx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE auth_user_id = $1 FOR UPDATE`,
		authUserID, authUserID)
	if err != nil {
		return nil, nil, err
	}

	remaining, purchased, err := fn(before.CreditsRemaining, before.TotalCreditsPurchased)
	if err != nil {
		return nil, nil, err
	}

	after, err := getProfile(ctx, tx,
		`UPDATE user_profiles
		 SET credits_remaining = $1, total_credits_purchased = $2, updated_at = NOW()
		 WHERE auth_user_id = $3
		 RETURNING `+profileColumns,
		authUserID, remaining, purchased, authUserID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("postgres: committing credits for %s: %w", authUserID, err)
	}
	return before, after, nil
}

func (db *DB) UpdateSubscription(ctx context.Context, authUserID string, upd model.SubscriptionUpdate) (*model.Profile, error) {
	sets := []string{"updated_at = NOW()"}
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.StripeCustomerID != nil {
		add("stripe_customer_id", *upd.StripeCustomerID)
	}
	if upd.Status != nil {
		add("subscription_status", string(*upd.Status))
	}
	if upd.Tier != nil {
		add("subscription_tier", string(*upd.Tier))
	}
	if upd.StartDate != nil {
		add("subscription_start_date", upd.StartDate.UTC())
	}
	if upd.EndDate != nil {
		add("subscription_end_date", upd.EndDate.UTC())
	}
	args = append(args, authUserID)

	query := fmt.Sprintf(
		`UPDATE user_profiles SET %s WHERE auth_user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), profileColumns,
	)
	return getProfile(ctx, db.pool, query, authUserID, args...)
}
