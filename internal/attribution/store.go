package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliatehub/internal/common/database"
)

// PostgresClickStore implements ClickStore using PostgreSQL.
type PostgresClickStore struct {
	pool *pgxpool.Pool
}

// NewPostgresClickStore creates a new PostgreSQL click store.
func NewPostgresClickStore(pool *pgxpool.Pool) *PostgresClickStore {
	return &PostgresClickStore{pool: pool}
}

func (s *PostgresClickStore) Record(ctx context.Context, c *Click) error {
	query := `
		INSERT INTO click_events (
			id, affiliate_id, ip_address, user_agent, referrer_url, landing_url, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.AffiliateID, c.IPAddress,
		nullStr(c.UserAgent), nullStr(c.ReferrerURL), nullStr(c.LandingURL),
		c.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("inserting click: %w", err)
	}
	return nil
}

func (s *PostgresClickStore) LatestByIP(ctx context.Context, ip string, after, until time.Time) (*Click, error) {
	query := `
		SELECT id, affiliate_id, ip_address, user_agent, referrer_url, landing_url, occurred_at
		FROM click_events
		WHERE ip_address = $1 AND occurred_at > $2 AND occurred_at <= $3
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1
	`
	var (
		c                            Click
		userAgent, referrer, landing *string
	)
	err := s.pool.QueryRow(ctx, query, ip, after, until).Scan(
		&c.ID, &c.AffiliateID, &c.IPAddress, &userAgent, &referrer, &landing, &c.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("click for %s: %w", ip, database.ErrNotFound)
		}
		return nil, fmt.Errorf("querying clicks: %w", err)
	}
	c.UserAgent = derefStr(userAgent)
	c.ReferrerURL = derefStr(referrer)
	c.LandingURL = derefStr(landing)
	return &c, nil
}

func (s *PostgresClickStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM click_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging clicks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
