package withdrawal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL withdrawal store.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const selectColumns = `
	id, user_id, amount_minor, currency, payment_method, payment_details, status,
	payment_reference, decided_by, created_at, updated_at, processed_at
`

// Create inserts a new request.
func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	details, err := json.Marshal(r.PaymentDetails)
	if err != nil {
		return fmt.Errorf("encoding payment details: %w", err)
	}

	query := `
		INSERT INTO withdrawal_requests (
			id, user_id, amount_minor, currency, payment_method, payment_details,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		r.ID, r.UserID, r.Amount.AmountMinor, r.Amount.Currency, r.PaymentMethod, details,
		r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("withdrawal %s: %w", r.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting withdrawal: %w", err)
	}
	return nil
}

// Get retrieves a request by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + selectColumns + ` FROM withdrawal_requests WHERE id = $1`
	return scanRequest(s.pool.QueryRow(ctx, query, id))
}

// Delete removes a request that is still pending.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM withdrawal_requests WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("deleting withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending withdrawal %s: %w", id, database.ErrNotFound)
	}
	return nil
}

// Transition applies c under a row lock so concurrent transitions from the
// same status serialize and only the first succeeds.
func (s *PostgresStore) Transition(ctx context.Context, id string, c Change) (*Request, error) {
	var out *Request
	err := database.WithTx(ctx, s.pool, s.logger, func(tx pgx.Tx) error {
		query := `SELECT ` + selectColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
		r, err := scanRequest(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}
		if err := r.apply(c); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = $2, decided_by = $3, payment_reference = $4, updated_at = $5, processed_at = $6
			WHERE id = $1
		`, r.ID, r.Status, nullStr(r.DecidedBy), nullStr(r.PaymentReference), r.UpdatedAt, r.ProcessedAt)
		if err != nil {
			return fmt.Errorf("updating withdrawal: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByUser returns a user's requests, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Request, error) {
	query := `SELECT ` + selectColumns + `
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		r                     Request
		amount                int64
		currency              string
		details               []byte
		paymentRef, decidedBy *string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &amount, &currency, &r.PaymentMethod, &details, &r.Status,
		&paymentRef, &decidedBy, &r.CreatedAt, &r.UpdatedAt, &r.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("withdrawal: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning withdrawal: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.PaymentDetails); err != nil {
			return nil, fmt.Errorf("decoding payment details: %w", err)
		}
	}
	r.Amount = money.New(amount, money.Currency(currency))
	if paymentRef != nil {
		r.PaymentReference = *paymentRef
	}
	if decidedBy != nil {
		r.DecidedBy = *decidedBy
	}
	return &r, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
