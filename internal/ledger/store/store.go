package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/ledger/domain"
)

// Store provides ledger data access on PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new ledger store
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// GetBalance retrieves the stored balance of an owner
func (s *Store) GetBalance(ctx context.Context, ownerID string) (*domain.Balance, error) {
	query := `
		SELECT owner_id, available_minor, currency, version, updated_at
		FROM balances
		WHERE owner_id = $1
	`

	var (
		b        domain.Balance
		amount   int64
		currency string
	)
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(&b.OwnerID, &amount, &currency, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("balance %s: %w", ownerID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("getting balance: %w", err)
	}
	b.Available = money.New(amount, money.Currency(currency))
	return &b, nil
}

// Apply writes a mutation in one transaction. The balance row is written
// only if its version still matches; otherwise domain.ErrVersionConflict.
func (s *Store) Apply(ctx context.Context, m *domain.Mutation) error {
	return database.WithTx(ctx, s.pool, s.logger, func(tx pgx.Tx) error {
		if err := writeBalance(ctx, tx, m); err != nil {
			return err
		}
		if m.Commission != nil {
			if err := insertCommission(ctx, tx, m.Commission); err != nil {
				return err
			}
		}
		return insertEntry(ctx, tx, m.Entry)
	})
}

func writeBalance(ctx context.Context, tx pgx.Tx, m *domain.Mutation) error {
	b := m.Balance
	if m.ExpectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO balances (owner_id, available_minor, currency, version, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_id) DO NOTHING
		`, b.OwnerID, b.Available.AmountMinor, b.Available.Currency, b.Version, b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET available_minor = $2, version = $3, updated_at = $4
		WHERE owner_id = $1 AND version = $5
	`, b.OwnerID, b.Available.AmountMinor, b.Version, b.UpdatedAt, m.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *domain.Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, owner_id, entry_type, source_type, reference,
			amount_minor, currency, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID, e.OwnerID, e.EntryType, e.SourceType, e.Reference,
		e.Amount.AmountMinor, e.Amount.Currency, e.BalanceAfter, e.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("entry %s/%s: %w", e.SourceType, e.Reference, domain.ErrAlreadyApplied)
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

func insertCommission(ctx context.Context, tx pgx.Tx, c *domain.Commission) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO commissions (
			id, affiliate_id, owner_id, sale_reference, provider, provider_transaction_id,
			gross_minor, gross_currency, rate_applied, amount_minor, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10, $11, $12)
	`,
		c.ID, c.AffiliateID, c.OwnerID, c.SaleReference, c.Provider, c.ProviderTransactionID,
		c.Gross.AmountMinor, c.Gross.Currency, c.RateApplied.String(),
		c.Amount.AmountMinor, c.Amount.Currency, c.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("commission for %s (%s): %w", c.SaleReference, database.ConstraintName(err), domain.ErrAlreadyApplied)
		}
		return fmt.Errorf("inserting commission: %w", err)
	}
	return nil
}

// ListEntries returns an owner's entries, newest first
func (s *Store) ListEntries(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Entry, error) {
	query := `
		SELECT id, owner_id, entry_type, source_type, reference,
			   amount_minor, currency, balance_after, created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		var (
			e        domain.Entry
			amount   int64
			currency string
		)
		if err := rows.Scan(
			&e.ID, &e.OwnerID, &e.EntryType, &e.SourceType, &e.Reference,
			&amount, &currency, &e.BalanceAfter, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Amount = money.New(amount, money.Currency(currency))
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

const commissionColumns = `id, affiliate_id, owner_id, sale_reference, provider, provider_transaction_id,
	gross_minor, gross_currency, rate_applied::text, amount_minor, currency, created_at`

// ListCommissions returns an owner's commissions, newest first
func (s *Store) ListCommissions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Commission, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing commissions: %w", err)
	}
	defer rows.Close()

	var commissions []*domain.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, c)
	}
	return commissions, rows.Err()
}

// GetCommission returns the commission credited for a provider transaction.
func (s *Store) GetCommission(ctx context.Context, provider, providerTransactionID string) (*domain.Commission, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE provider = $1 AND provider_transaction_id = $2
	`
	c, err := scanCommission(s.pool.QueryRow(ctx, query, provider, providerTransactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("commission for %s/%s: %w", provider, providerTransactionID, database.ErrNotFound)
		}
		return nil, err
	}
	return c, nil
}

func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var (
		c                             domain.Commission
		grossMinor, amountMinor       int64
		grossCurrency, currency, rate string
	)
	if err := row.Scan(
		&c.ID, &c.AffiliateID, &c.OwnerID, &c.SaleReference, &c.Provider, &c.ProviderTransactionID,
		&grossMinor, &grossCurrency, &rate, &amountMinor, &currency, &c.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning commission: %w", err)
	}
	var err error
	if c.RateApplied, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parsing rate %q: %w", rate, err)
	}
	c.Gross = money.New(grossMinor, money.Currency(grossCurrency))
	c.Amount = money.New(amountMinor, money.Currency(currency))
	return &c, nil
}
