package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/observability"
	"github.com/tbourn/alfie-backend/internal/repo"
)

// QuotaMeta labels a ledger movement for the audit trail.
type QuotaMeta struct {
	Reference string // job, clip or order id
	Note      string
}

// QuotaCheck is the answer to "can this brand afford cost right now".
type QuotaCheck struct {
	OK        bool        `json:"ok"`
	Period    string      `json:"period"`
	Required  domain.Cost `json:"required"`
	Remaining domain.Cost `json:"remaining"`
}

// QuotaBalance is a ledger with its most recent movements.
type QuotaBalance struct {
	Ledger       domain.QuotaLedger        `json:"ledger"`
	Remaining    domain.Cost               `json:"remaining"`
	Transactions []domain.QuotaTransaction `json:"transactions"`
}

// QuotaService implements the brand budget ledger. Ledgers are monthly (UTC)
// and created on first use with Defaults as the plan budget.
type QuotaService struct {
	DB       *gorm.DB
	Defaults domain.Cost
	Now      func() time.Time
}

func (s *QuotaService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *QuotaService) ledger(ctx context.Context, brandID string) (*domain.QuotaLedger, error) {
	if brandID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "brandId", Message: "required"}}}
	}
	return repo.EnsureLedger(ctx, s.DB, brandID, repo.QuotaPeriod(s.now()), s.Defaults)
}

// Check reports whether cost fits the brand's remaining budget. It never
// reserves anything.
func (s *QuotaService) Check(ctx context.Context, brandID string, cost domain.Cost) (QuotaCheck, error) {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Check", trace.WithAttributes(attribute.String("brand.id", brandID)))
	defer span.End()

	l, err := s.ledger(ctx, brandID)
	if err != nil {
		return QuotaCheck{}, err
	}
	rem := l.Remaining()
	ok := cost.Fits(rem)
	observability.QuotaOperations.WithLabelValues("check", okLabel(ok)).Inc()
	return QuotaCheck{OK: ok, Period: l.Period, Required: cost, Remaining: rem}, nil
}

// Consume charges cost against the brand's current ledger.
func (s *QuotaService) Consume(ctx context.Context, brandID string, cost domain.Cost, meta QuotaMeta) error {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Consume", trace.WithAttributes(
		attribute.String("brand.id", brandID),
		attribute.Int("cost.woofs", cost.Woofs),
	))
	defer span.End()

	l, err := s.ledger(ctx, brandID)
	if err != nil {
		return err
	}
	return s.consume(ctx, l, cost, meta)
}

func (s *QuotaService) consume(ctx context.Context, l *domain.QuotaLedger, cost domain.Cost, meta QuotaMeta) error {
	err := repo.ConsumeQuota(ctx, s.DB, l.ID, cost, meta.Reference, meta.Note)
	if errors.Is(err, repo.ErrInsufficientQuota) {
		observability.QuotaOperations.WithLabelValues("consume", "insufficient").Inc()
		rem := l.Remaining()
		if fresh, gerr := repo.GetLedger(ctx, s.DB, l.BrandID, l.Period); gerr == nil {
			rem = fresh.Remaining()
		}
		return &QuotaExceededError{BrandID: l.BrandID, Required: cost, Remaining: rem}
	}
	observability.QuotaOperations.WithLabelValues("consume", okLabel(err == nil)).Inc()
	return err
}

// Refund returns cost to the brand's current ledger.
func (s *QuotaService) Refund(ctx context.Context, brandID string, cost domain.Cost, meta QuotaMeta) error {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Refund", trace.WithAttributes(attribute.String("brand.id", brandID)))
	defer span.End()

	l, err := s.ledger(ctx, brandID)
	if err != nil {
		return err
	}
	return observability.SpanError(span, s.refund(ctx, l, cost, meta))
}

func (s *QuotaService) refund(ctx context.Context, l *domain.QuotaLedger, cost domain.Cost, meta QuotaMeta) error {
	err := repo.RefundQuota(ctx, s.DB, l.ID, cost, meta.Reference, meta.Note)
	observability.QuotaOperations.WithLabelValues("refund", okLabel(err == nil)).Inc()
	if err != nil {
		log.Error().Err(err).
			Str("brand_id", l.BrandID).
			Str("ledger_id", l.ID).
			Str("reference", meta.Reference).
			Int("woofs", cost.Woofs).
			Int("images", cost.Images).
			Int("videos", cost.Videos).
			Msg("quota refund failed, ledger may drift")
	}
	return err
}

// Balance returns the current ledger and its latest transactions.
func (s *QuotaService) Balance(ctx context.Context, brandID string) (*QuotaBalance, error) {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Balance", trace.WithAttributes(attribute.String("brand.id", brandID)))
	defer span.End()

	l, err := s.ledger(ctx, brandID)
	if err != nil {
		return nil, err
	}
	txs, err := repo.ListQuotaTransactions(ctx, s.DB, l.ID, 20)
	if err != nil {
		return nil, err
	}
	return &QuotaBalance{Ledger: *l, Remaining: l.Remaining(), Transactions: txs}, nil
}

// Metered runs render under the quota protocol: check, consume, render, and
// on render failure refund exactly what was consumed before returning the
// render error. Refund failures are logged and do not replace that error.
func (s *QuotaService) Metered(ctx context.Context, brandID string, cost domain.Cost, meta QuotaMeta, render func(ctx context.Context) error) error {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Metered", trace.WithAttributes(
		attribute.String("brand.id", brandID),
		attribute.String("reference", meta.Reference),
	))
	defer span.End()

	if cost.IsZero() {
		return render(ctx)
	}

	chk, err := s.Check(ctx, brandID, cost)
	if err != nil {
		return err
	}
	if !chk.OK {
		return &QuotaExceededError{BrandID: brandID, Required: cost, Remaining: chk.Remaining}
	}

	l, err := s.ledger(ctx, brandID)
	if err != nil {
		return err
	}
	refundMeta := QuotaMeta{Reference: meta.Reference, Note: "render failed"}
	err = RunSaga(ctx, "metered-render",
		SagaStep{
			Name: "consume",
			Do:   func(ctx context.Context) error { return s.consume(ctx, l, cost, meta) },
			Undo: func(ctx context.Context) error { return s.refund(ctx, l, cost, refundMeta) },
		},
		SagaStep{Name: "render", Do: render},
	)
	var serr *SagaError
	if errors.As(err, &serr) {
		return serr.Err
	}
	return err
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
