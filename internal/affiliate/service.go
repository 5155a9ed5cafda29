package affiliate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Service manages affiliate onboarding and suspension.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new affiliate service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// OnboardRequest is the request to enroll an affiliate
type OnboardRequest struct {
	UserID         string `json:"user_id" validate:"required,max=64"`
	Code           string `json:"affiliate_code" validate:"required,min=3,max=32"`
	Level          int    `json:"level" validate:"omitempty,gte=1,lte=100"`
	CommissionRate string `json:"commission_rate" validate:"omitempty,numeric"`
}

// Onboard creates an active affiliate.
func (s *Service) Onboard(ctx context.Context, req OnboardRequest) (*Affiliate, error) {
	level := req.Level
	if level == 0 {
		level = 1
	}

	a, err := NewAffiliate(ulid.Make().String(), req.UserID, req.Code, level)
	if err != nil {
		return nil, err
	}
	if req.CommissionRate != "" {
		rate, err := decimal.NewFromString(req.CommissionRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRate, err)
		}
		if err := a.SetRateOverride(rate); err != nil {
			return nil, err
		}
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("affiliate onboarded",
		"affiliate_id", a.ID,
		"user_id", a.UserID,
		"code", a.Code,
		"level", a.Level,
	)
	return a, nil
}

// Suspend stops an affiliate from being credited. Existing balances are
// untouched.
func (s *Service) Suspend(ctx context.Context, id, actor string) (*Affiliate, error) {
	a, err := s.store.UpdateStatus(ctx, id, StatusSuspended)
	if err != nil {
		return nil, err
	}
	s.logger.Info("affiliate suspended", "affiliate_id", a.ID, "code", a.Code, "actor", actor)
	return a, nil
}

// Get returns an affiliate by ID.
func (s *Service) Get(ctx context.Context, id string) (*Affiliate, error) {
	return s.store.Get(ctx, id)
}
