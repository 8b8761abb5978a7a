package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/money"
)

// RedeemRequest holds the input for committing a code.
type RedeemRequest struct {
	Code      string
	CartTotal decimal.Decimal
	UserID    string
	// Reference identifies the checkout attempt. Retries carrying the same
	// reference are counted once. Generated when empty.
	Reference string
}

// Service looks codes up in a Repository and evaluates them.
type Service struct {
	repo        Repository
	now         func() time.Time
	validations metric.Int64Counter
}

// NewService creates a discount Service backed by repo.
func NewService(repo Repository, meter metric.Meter) (*Service, error) {
	validations, err := meter.Int64Counter("discount.validations",
		metric.WithDescription("Discount code validations by mode and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create discount.validations counter")
	}
	return &Service{repo: repo, now: time.Now, validations: validations}, nil
}

// Preview evaluates code against cartTotal without changing any state.
func (s *Service) Preview(ctx context.Context, code string, cartTotal decimal.Decimal) (Result, error) {
	res, _, err := s.evaluate(ctx, code, cartTotal)
	if err != nil {
		return Result{}, err
	}
	s.observe(ctx, "preview", res)
	return res, nil
}

// Redeem evaluates the code and, when valid, atomically records a
// redemption for req.UserID and increments the code's usage counter.
// A cap reached between evaluation and commit yields the exhausted result.
// Repeating a request with the same reference returns the discount committed
// the first time; a reference owned by another user is ErrReferenceConflict.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (Result, error) {
	if req.UserID == "" {
		return Result{}, errors.Wrap(ErrInvalidInput, "user id is required")
	}

	res, rec, err := s.evaluate(ctx, req.Code, req.CartTotal)
	if err != nil {
		return Result{}, err
	}
	if !res.Valid {
		// A retry of a checkout that took the last slot sees the code as
		// exhausted; let the repository decide whether it is a replay.
		if res.Reason != ReasonExhausted || req.Reference == "" {
			s.observe(ctx, "redeem", res)
			return res, nil
		}
		uncapped := *rec
		uncapped.MaxRedemptions = nil
		res = Evaluate(&uncapped, req.CartTotal, s.now())
		res.Code = uncapped.Code
	}

	ref := req.Reference
	if ref == "" {
		ref = uuid.New().String()
	}
	redemption := &Redemption{
		ID:         uuid.New().String(),
		CodeID:     rec.ID,
		UserID:     req.UserID,
		Reference:  ref,
		Discount:   res.AppliedDiscount,
		RedeemedAt: s.now(),
	}

	prior, err := s.repo.Redeem(ctx, redemption)
	switch {
	case errors.Is(err, ErrExhausted):
		res = reject(ReasonExhausted, req.CartTotal)
	case err != nil:
		return Result{}, errors.Wrap(err, "redeem discount code")
	case prior != nil:
		if prior.UserID != req.UserID {
			zctx.From(ctx).Warn("Redemption reference reused by another user",
				zap.String("code", rec.Code),
				zap.String("reference", ref),
				zap.String("user_id", req.UserID),
			)
			return Result{}, errors.Wrapf(ErrReferenceConflict, "reference %q", ref)
		}
		// A replay reports what was committed, not a fresh evaluation.
		res.AppliedDiscount = prior.Discount
		res.NewTotal = money.FloorAtZero(req.CartTotal.Sub(prior.Discount))
	}
	s.observe(ctx, "redeem", res)

	lg := zctx.From(ctx)
	if res.Valid {
		lg.Info("Discount code redeemed",
			zap.String("code", rec.Code),
			zap.String("user_id", req.UserID),
			zap.String("reference", ref),
			zap.Bool("replayed", prior != nil),
			zap.String("discount", res.AppliedDiscount.String()),
		)
	} else {
		lg.Info("Discount code exhausted at commit", zap.String("code", rec.Code))
	}
	return res, nil
}

// Create normalizes and validates c, then stores it.
func (s *Service) Create(ctx context.Context, c *Code) error {
	c.Code = Normalize(c.Code)
	if err := Validate(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.UsageCount = 0
	c.CreatedAt = s.now()
	if err := s.repo.CreateCode(ctx, c); err != nil {
		return errors.Wrap(err, "create discount code")
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, code string, cartTotal decimal.Decimal) (Result, *Code, error) {
	if cartTotal.IsNegative() {
		return Result{}, nil, errors.Wrap(ErrInvalidInput, "cart total must not be negative")
	}

	normalized := Normalize(code)
	if normalized == "" {
		return reject(ReasonNotFound, cartTotal), nil, nil
	}

	rec, err := s.repo.FindByCode(ctx, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = nil
	case err != nil:
		return Result{}, nil, errors.Wrap(err, "lookup discount code")
	}

	res := Evaluate(rec, cartTotal, s.now())
	if res.Valid {
		res.Code = normalized
	}
	return res, rec, nil
}

func (s *Service) observe(ctx context.Context, mode string, res Result) {
	outcome := string(res.Reason)
	if res.Valid {
		outcome = "valid"
	}
	s.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("discount.mode", mode),
		attribute.String("discount.outcome", outcome),
	))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("discount.mode", mode),
		attribute.String("discount.outcome", outcome),
	)
}
