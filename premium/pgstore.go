package premium

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps subscriptions in Postgres, shared with the billing
// webhook service which writes the refresh flags.
type PgStore struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool and verifies it.
func Connect(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// Init creates the subscription tables if they do not exist.
func (s *PgStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_subscriptions (
			user_id TEXT PRIMARY KEY,
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			premium_expires_at TIMESTAMP WITH TIME ZONE
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS premium_cache_refresh (
			user_id TEXT PRIMARY KEY,
			needs_refresh BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (s *PgStore) Subscription(ctx context.Context, requesterID string) (Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT is_premium, premium_expires_at FROM user_subscriptions WHERE user_id = $1`,
		requesterID).Scan(&sub.Premium, &sub.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, nil
	}
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *PgStore) ExpirePremium(ctx context.Context, requesterID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_subscriptions SET is_premium = FALSE WHERE user_id = $1`, requesterID)
	return err
}

func (s *PgStore) SetPremium(ctx context.Context, requesterID string, premium bool, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_subscriptions (user_id, is_premium, premium_expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			is_premium = EXCLUDED.is_premium,
			premium_expires_at = EXCLUDED.premium_expires_at`,
		requesterID, premium, expiresAt)
	return err
}

// NeedsRefresh reads and clears the refresh flag in one round trip each.
func (s *PgStore) NeedsRefresh(ctx context.Context, requesterID string) (bool, error) {
	var needs bool
	err := s.pool.QueryRow(ctx,
		`SELECT needs_refresh FROM premium_cache_refresh WHERE user_id = $1 AND needs_refresh = TRUE`,
		requesterID).Scan(&needs)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE premium_cache_refresh SET needs_refresh = FALSE WHERE user_id = $1`, requesterID)
	return true, err
}

func (s *PgStore) Close() {
	s.pool.Close()
}
