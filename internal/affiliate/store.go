package affiliate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/database"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// commission_rate crosses the wire as text so the decimal keeps its exact value.
const affiliateColumns = `id, user_id, affiliate_code, status, level, commission_rate::text, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, a *Affiliate) error {
	query := `
		INSERT INTO affiliates (
			id, user_id, affiliate_code, status, level, commission_rate, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)
	`
	var rate *string
	if a.CommissionRate != nil {
		r := a.CommissionRate.String()
		rate = &r
	}
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.UserID, a.Code, a.Status, a.Level, rate, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("affiliate code %s: %w", a.Code, ErrCodeTaken)
		}
		return fmt.Errorf("inserting affiliate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE id = $1`
	return s.getOne(ctx, query, id)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE affiliate_code = $1`
	return s.getOne(ctx, query, code)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) (*Affiliate, error) {
	query := `
		UPDATE affiliates SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + affiliateColumns
	return s.getOne(ctx, query, id, status, time.Now().UTC())
}

func (s *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*Affiliate, error) {
	a, err := scanAffiliate(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("affiliate: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("querying affiliate: %w", err)
	}
	return a, nil
}

func scanAffiliate(row pgx.Row) (*Affiliate, error) {
	var (
		a    Affiliate
		rate *string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Code, &a.Status, &a.Level, &rate, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, fmt.Errorf("parsing commission_rate: %w", err)
		}
		a.CommissionRate = &d
	}
	return &a, nil
}
