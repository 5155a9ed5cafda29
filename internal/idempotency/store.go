package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/sale"
)

// PostgresStore implements Store with PostgreSQL. Claim atomicity comes
// from the primary key on (provider, provider_transaction_id, event_kind).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `provider, provider_transaction_id, event_kind, status, trust_tier,
	affiliate_id, attempts, last_error, created_at, processed_at`

func (s *PostgresStore) Claim(ctx context.Context, key sale.Key, tier sale.TrustTier, now, staleBefore time.Time) (Claim, error) {
	insert := `
		INSERT INTO processed_transactions (
			provider, provider_transaction_id, event_kind, status, trust_tier,
			attempts, created_at, processed_at
		) VALUES ($1, $2, $3, 'in_progress', $4, 1, $5, $5)
		ON CONFLICT ON CONSTRAINT processed_transactions_pkey DO NOTHING
		RETURNING ` + recordColumns

	rec, err := scanRecord(s.pool.QueryRow(ctx, insert,
		key.Provider, key.ProviderTransactionID, key.EventKind, tier, now))
	if err == nil {
		return Claim{Claimed: true, Record: rec}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, fmt.Errorf("inserting claim: %w", err)
	}

	takeover := `
		UPDATE processed_transactions
		SET status = 'in_progress', processed_at = $4, attempts = attempts + 1
		WHERE provider = $1 AND provider_transaction_id = $2 AND event_kind = $3
		  AND (status = 'failed' OR (status = 'in_progress' AND processed_at < $5))
		RETURNING ` + recordColumns

	rec, err = scanRecord(s.pool.QueryRow(ctx, takeover,
		key.Provider, key.ProviderTransactionID, key.EventKind, now, staleBefore))
	if err == nil {
		return Claim{Claimed: true, Resumed: true, Record: rec}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, fmt.Errorf("taking over claim: %w", err)
	}

	rec, err = s.Get(ctx, key)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Record: rec}, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, key sale.Key, status Status, affiliateID string, now time.Time) error {
	query := `
		UPDATE processed_transactions
		SET status = $4, affiliate_id = $5, last_error = NULL, processed_at = $6
		WHERE provider = $1 AND provider_transaction_id = $2 AND event_kind = $3
		  AND status = 'in_progress'
	`
	tag, err := s.pool.Exec(ctx, query,
		key.Provider, key.ProviderTransactionID, key.EventKind, status, nullStr(affiliateID), now)
	if err != nil {
		return fmt.Errorf("finalizing claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key sale.Key, cause string, now time.Time) error {
	query := `
		UPDATE processed_transactions
		SET status = 'failed', last_error = $4, processed_at = $5
		WHERE provider = $1 AND provider_transaction_id = $2 AND event_kind = $3
		  AND status = 'in_progress'
	`
	tag, err := s.pool.Exec(ctx, query,
		key.Provider, key.ProviderTransactionID, key.EventKind, nullStr(cause), now)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key sale.Key) (*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM processed_transactions
		WHERE provider = $1 AND provider_transaction_id = $2 AND event_kind = $3`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, key.Provider, key.ProviderTransactionID, key.EventKind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("processed transaction %s: %w", key, database.ErrNotFound)
		}
		return nil, fmt.Errorf("getting processed transaction: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM processed_transactions
		WHERE status = 'in_progress' AND processed_at < $1
		ORDER BY processed_at
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale claims: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec         Record
		affiliateID *string
		lastError   *string
	)
	err := row.Scan(
		&rec.Key.Provider, &rec.Key.ProviderTransactionID, &rec.Key.EventKind,
		&rec.Status, &rec.TrustTier, &affiliateID, &rec.Attempts, &lastError,
		&rec.CreatedAt, &rec.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if affiliateID != nil {
		rec.AffiliateID = *affiliateID
	}
	if lastError != nil {
		rec.LastError = *lastError
	}
	return &rec, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
