package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"affiliatehub/internal/common/events"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/ledger"
	"affiliatehub/internal/ledger/domain"
)

// Store persists withdrawal requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// Delete removes a pending request; used only to compensate a failed debit.
	Delete(ctx context.Context, id string) error
	// Transition atomically applies c if the request is still in c.From.
	Transition(ctx context.Context, id string, c Change) (*Request, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Request, error)
}

// Balances is the part of the balance ledger withdrawals need.
type Balances interface {
	Currency() money.Currency
	GetBalance(ctx context.Context, ownerID string) (*domain.Balance, error)
	Debit(ctx context.Context, req ledger.PostingRequest) (*domain.Entry, error)
	Credit(ctx context.Context, req ledger.PostingRequest) (*domain.Entry, error)
}

// Service runs the withdrawal state machine.
type Service struct {
	store    Store
	balances Balances
	notifier *events.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new withdrawal service.
func NewService(store Store, balances Balances, notifier *events.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, balances: balances, notifier: notifier, now: time.Now, logger: logger}
}

// CreateRequest is the request to withdraw funds.
type CreateRequest struct {
	UserID         string            `json:"user_id" validate:"required,max=64"`
	AmountMinor    int64             `json:"amount_minor" validate:"required,gt=0"`
	PaymentMethod  Method            `json:"payment_method" validate:"required,oneof=pix bank_transfer paypal"`
	PaymentDetails map[string]string `json:"payment_details"`
}

// Create reserves funds for a new pending request. A request larger than
// the available balance is refused before any row exists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Request, error) {
	amount := money.New(req.AmountMinor, s.balances.Currency())

	balance, err := s.balances.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	if cmp, err := balance.Available.Compare(amount); err != nil {
		return nil, err
	} else if cmp < 0 {
		return nil, fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientBalance, balance.Available, amount)
	}

	r, err := NewRequest(ulid.Make().String(), req.UserID, amount, req.PaymentMethod, req.PaymentDetails, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	_, err = s.balances.Debit(ctx, ledger.PostingRequest{
		OwnerID:    r.UserID,
		Amount:     r.Amount,
		SourceType: domain.SourceTypeWithdrawal,
		Reference:  r.ID,
	})
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), r.ID); delErr != nil {
			s.logger.Error("failed to delete withdrawal after debit failure",
				"withdrawal_id", r.ID,
				"debit_error", err,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("reserving funds: %w", err)
	}

	s.logger.Info("withdrawal requested",
		"withdrawal_id", r.ID,
		"user_id", r.UserID,
		"amount", r.Amount.AmountMinor,
		"method", r.PaymentMethod,
	)
	s.notify(ctx, r, "")
	return r, nil
}

// Decide applies an admin decision to a pending request. Rejection refunds
// the reserved amount; if the refund fails the request returns to pending.
func (s *Service) Decide(ctx context.Context, id string, decision Status, actor string) (*Request, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	r, err := s.store.Transition(ctx, id, Change{From: StatusPending, To: decision, DecidedBy: actor, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}

	if decision == StatusRejected {
		if err := s.refund(ctx, r); err != nil {
			if _, revertErr := s.store.Transition(context.WithoutCancel(ctx), id, Change{
				From: StatusRejected, To: StatusPending, At: s.now().UTC(),
			}); revertErr != nil {
				s.logger.Error("failed to revert rejected withdrawal after refund failure",
					"withdrawal_id", id,
					"refund_error", err,
					"error", revertErr,
				)
			}
			return nil, fmt.Errorf("refunding withdrawal %s: %w", id, err)
		}
	}

	s.logger.Info("withdrawal decided",
		"withdrawal_id", r.ID,
		"decision", decision,
		"actor", actor,
	)
	s.notify(ctx, r, StatusPending)
	return r, nil
}

func (s *Service) refund(ctx context.Context, r *Request) error {
	_, err := s.balances.Credit(ctx, ledger.PostingRequest{
		OwnerID:    r.UserID,
		Amount:     r.Amount,
		SourceType: domain.SourceTypeWithdrawalRefund,
		Reference:  "withdrawal:" + r.ID,
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		return nil
	}
	return err
}

// Complete marks an approved request as paid out.
func (s *Service) Complete(ctx context.Context, id, paymentReference, actor string) (*Request, error) {
	if paymentReference == "" {
		return nil, errors.New("payment reference is required")
	}
	r, err := s.store.Transition(ctx, id, Change{
		From:             StatusApproved,
		To:               StatusCompleted,
		PaymentReference: paymentReference,
		At:               s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal completed",
		"withdrawal_id", r.ID,
		"payment_reference", paymentReference,
		"actor", actor,
	)
	s.notify(ctx, r, StatusApproved)
	return r, nil
}

// Get retrieves a request by ID.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListByUser lists a user's requests, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) notify(ctx context.Context, r *Request, from Status) {
	s.notifier.Notify(ctx, events.EventWithdrawalStatusChanged, "withdrawal", r.ID, events.WithdrawalStatusChangedData{
		WithdrawalID: r.ID,
		UserID:       r.UserID,
		FromStatus:   string(from),
		ToStatus:     string(r.Status),
		AmountMinor:  r.Amount.AmountMinor,
		Currency:     string(r.Amount.Currency),
	})
}
