// Package sales runs a canonical sale event through claim, attribution,
// commission and credit.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"affiliatehub/internal/affiliate"
	"affiliatehub/internal/attribution"
	"affiliatehub/internal/common/events"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/idempotency"
	"affiliatehub/internal/ledger/domain"
	"affiliatehub/internal/sale"
)

// ErrPersistence means the sale could not be durably processed; the
// provider should retry.
var ErrPersistence = errors.New("persistence failure")

// Commissions credits a commission and its balance change atomically.
type Commissions interface {
	CreditCommission(ctx context.Context, c *domain.Commission) (*domain.Entry, error)
	CommissionForTransaction(ctx context.Context, provider, providerTransactionID string) (*domain.Commission, error)
}

// Outcome is the result of processing one event.
type Outcome struct {
	Key         sale.Key           `json:"key"`
	Status      idempotency.Status `json:"status"`
	Duplicate   bool               `json:"duplicate"`
	AffiliateID string             `json:"affiliate_id,omitempty"`
	Commission  *money.Money       `json:"commission,omitempty"`
}

// Service is the crediting pipeline.
type Service struct {
	ledger      *idempotency.Ledger
	resolver    *attribution.Resolver
	calculator  *affiliate.Calculator
	commissions Commissions
	notifier    *events.Notifier
	logger      *slog.Logger
}

// NewService wires the pipeline.
func NewService(
	ledger *idempotency.Ledger,
	resolver *attribution.Resolver,
	calculator *affiliate.Calculator,
	commissions Commissions,
	notifier *events.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		ledger:      ledger,
		resolver:    resolver,
		calculator:  calculator,
		commissions: commissions,
		notifier:    notifier,
		logger:      logger,
	}
}

// Process credits ev at most once. Duplicates return the stored outcome
// without touching balances. Any error wraps ErrPersistence and leaves the
// claim released for the provider's retry.
func (s *Service) Process(ctx context.Context, ev *sale.Event) (Outcome, error) {
	key := ev.Key()
	log := s.logger.With("key", key.String(), "trust_tier", ev.TrustTier)

	if ev.TrustTier == sale.TrustAllowList {
		log.Warn("processing event authenticated by source address only",
			"buyer", ev.BuyerIdentifier,
			"amount", ev.Amount.AmountMinor,
		)
	}

	claim, err := s.ledger.ClaimOrGetExisting(ctx, ev)
	if err != nil {
		return Outcome{Key: key}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !claim.Claimed {
		log.Info("duplicate delivery", "status", claim.Record.Status)
		return Outcome{
			Key:         key,
			Status:      claim.Record.Status,
			Duplicate:   true,
			AffiliateID: claim.Record.AffiliateID,
		}, nil
	}

	out, err := s.credit(ctx, ev, log)
	if err != nil {
		if relErr := s.ledger.Release(context.WithoutCancel(ctx), key, err); relErr != nil {
			log.Error("failed to release claim", "error", relErr)
		}
		log.Error("sale processing failed", "error", err)
		return Outcome{Key: key}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The credit is committed; a disconnecting provider must not leave the claim in progress.
	if err := s.ledger.Finalize(context.WithoutCancel(ctx), key, out.Status, out.AffiliateID); err != nil {
		// Effects are durable; a stale takeover will find them already applied.
		log.Error("failed to finalize claim", "status", out.Status, "error", err)
		return out, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.Info("sale processed",
		"status", out.Status,
		"affiliate_id", out.AffiliateID,
	)
	return out, nil
}

func (s *Service) credit(ctx context.Context, ev *sale.Event, log *slog.Logger) (Outcome, error) {
	key := ev.Key()
	out := Outcome{Key: key}

	if !ev.Kind.Credits() {
		log.Info("refund recorded without balance change", "amount", ev.Amount.AmountMinor)
		out.Status = idempotency.StatusIgnoredNoAffiliate
		return out, nil
	}

	attr := s.resolver.Resolve(ctx, ev)
	if !attr.Found() {
		out.Status = idempotency.StatusIgnoredNoAffiliate
		s.notifier.Notify(ctx, events.EventSaleUnattributed, "sale", key.String(), events.SaleUnattributedData{
			Provider:              ev.Provider,
			ProviderTransactionID: ev.ProviderTransactionID,
			EventKind:             string(ev.Kind),
			AmountMinor:           ev.Amount.AmountMinor,
			Currency:              string(ev.Amount.Currency),
		})
		return out, nil
	}

	a := attr.Affiliate
	out.AffiliateID = a.ID
	log = log.With("affiliate_id", a.ID, "source", attr.Source)

	if !ev.Amount.IsPositive() {
		log.Warn("sale has no positive gross amount", "amount", ev.Amount.AmountMinor)
		out.Status = idempotency.StatusRejectedInvalid
		return out, nil
	}

	quote, err := s.calculator.Compute(a, ev.Amount)
	if err != nil {
		if errors.Is(err, affiliate.ErrUnsupportedCurrency) {
			log.Warn("sale currency cannot be converted", "currency", ev.Amount.Currency)
			out.Status = idempotency.StatusRejectedInvalid
			return out, nil
		}
		return out, err
	}
	if !quote.Amount.IsPositive() {
		log.Info("commission rounds to zero", "rate", quote.Rate.String())
		out.Status = idempotency.StatusIgnoredNoAffiliate
		return out, nil
	}

	_, err = s.commissions.CreditCommission(ctx, &domain.Commission{
		AffiliateID:           a.ID,
		OwnerID:               a.UserID,
		SaleReference:         key.String(),
		Provider:              ev.Provider,
		ProviderTransactionID: ev.ProviderTransactionID,
		Gross:                 ev.Amount,
		RateApplied:           quote.Rate,
		Amount:                quote.Amount,
	})
	switch {
	case err == nil:
		amount := quote.Amount
		out.Commission = &amount
	case errors.Is(err, domain.ErrAlreadyApplied):
		// Another event kind for this transaction, or an earlier attempt
		// at this one, already credited it. Record who was actually paid.
		out.AffiliateID = ""
		existing, lookupErr := s.commissions.CommissionForTransaction(ctx, ev.Provider, ev.ProviderTransactionID)
		if lookupErr != nil {
			log.Warn("credited commission not found for transaction", "error", lookupErr)
		} else {
			out.AffiliateID = existing.AffiliateID
		}
		log.Info("commission already credited for transaction", "credited_affiliate_id", out.AffiliateID)
	default:
		return out, err
	}

	out.Status = idempotency.StatusCredited
	return out, nil
}

// ListStale returns claims stuck in progress, for reconciliation.
func (s *Service) ListStale(ctx context.Context, limit int) ([]*idempotency.Record, error) {
	return s.ledger.ListStale(ctx, limit)
}
