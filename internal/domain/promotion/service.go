package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service loads the currently active tiers and runs Calculate over them.
type Service struct {
	rules   Repository
	apps    ApplicationRepository
	now     func() time.Time
	applied metric.Int64Counter
}

// NewService creates a promotion Service. The meter is used to count applied
// tiers by promotion id.
func NewService(rules Repository, apps ApplicationRepository, meter metric.Meter) (*Service, error) {
	applied, err := meter.Int64Counter("promotion.applied",
		metric.WithDescription("Quantity tiers applied at checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create promotion.applied counter")
	}
	return &Service{
		rules:   rules,
		apps:    apps,
		now:     time.Now,
		applied: applied,
	}, nil
}

// Preview computes the discount for cart without recording anything.
func (s *Service) Preview(ctx context.Context, cart []CartItem) (Result, error) {
	rules, err := s.rules.ListActive(ctx, s.now())
	if err != nil {
		return Result{}, errors.Wrap(err, "list active promotions")
	}

	res, err := Calculate(cart, rules)
	if err != nil {
		return Result{}, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("promotion.candidates", len(rules)),
		attribute.Int("promotion.total_quantity", res.TotalQuantity),
		attribute.Int("promotion.applied_count", len(res.AppliedPromotions)),
	)
	return res, nil
}

// Apply computes the discount like Preview and records the applied tier,
// if any, against userID. An empty userID records an anonymous application.
func (s *Service) Apply(ctx context.Context, cart []CartItem, userID string) (Result, error) {
	res, err := s.Preview(ctx, cart)
	if err != nil {
		return Result{}, err
	}
	if len(res.AppliedPromotions) == 0 {
		return res, nil
	}

	p := res.AppliedPromotions[0]
	app := &Application{
		ID:             uuid.New().String(),
		PromotionID:    p.ID,
		UserID:         userID,
		TotalQuantity:  res.TotalQuantity,
		OriginalTotal:  res.OriginalTotal,
		DiscountAmount: p.DiscountAmount,
		AppliedAt:      s.now(),
	}
	if err := s.apps.RecordApplication(ctx, app); err != nil {
		return Result{}, errors.Wrap(err, "record promotion application")
	}

	s.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("promotion.id", p.ID)))
	zctx.From(ctx).Info("Promotion applied",
		zap.String("promotion_id", p.ID),
		zap.String("user_id", userID),
		zap.Int("quantity", res.TotalQuantity),
		zap.String("discount", p.DiscountAmount.String()),
	)
	return res, nil
}

// Create validates and stores a new tier.
func (s *Service) Create(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := ValidateRule(r); err != nil {
		return err
	}
	if r.StartsAt != nil && r.EndsAt != nil && r.EndsAt.Before(*r.StartsAt) {
		return &InvalidRuleError{RuleID: r.ID, Reason: "end date precedes start date"}
	}
	r.CreatedAt = s.now()
	if err := s.rules.CreateRule(ctx, r); err != nil {
		return errors.Wrap(err, "create promotion")
	}
	return nil
}

// List returns every stored tier, active or not.
func (s *Service) List(ctx context.Context) ([]Rule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	return rules, nil
}
