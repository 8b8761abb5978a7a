package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sos-pricing/internal/domain/promotion"
)

const (
	promotionColumns = `id, min_quantity, discount_type, discount_value, description,
		active, priority, starts_at, ends_at, created_at`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE active = TRUE
		  AND (starts_at IS NULL OR starts_at <= $1)
		  AND (ends_at IS NULL OR ends_at >= $1)
		ORDER BY priority DESC, min_quantity DESC, id`

	listPromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions ORDER BY created_at DESC, id`

	insertPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			min_quantity = EXCLUDED.min_quantity,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			priority = EXCLUDED.priority,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at`

	insertApplicationSQL = `INSERT INTO promotion_applications
		(id, promotion_id, user_id, total_quantity, original_total, discount_amount, applied_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`
)

var (
	_ promotion.Repository            = (*PromotionRepository)(nil)
	_ promotion.ApplicationRepository = (*PromotionRepository)(nil)
)

// PromotionRepository implements promotion.Repository and
// promotion.ApplicationRepository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ListActive returns the rules that are active and whose window contains now.
// NULL bounds are open-ended.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]promotion.Rule, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("scanning active promotions: %w", err)
	}
	return rules, nil
}

// List returns every promotion, newest first.
func (r *PromotionRepository) List(ctx context.Context) ([]promotion.Rule, error) {
	rows, err := r.pool.Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("scanning promotions: %w", err)
	}
	return rules, nil
}

// CreateRule inserts a promotion, replacing the one with the same id.
func (r *PromotionRepository) CreateRule(ctx context.Context, rule *promotion.Rule) error {
	_, err := r.pool.Exec(ctx, insertPromotionSQL,
		rule.ID, rule.MinQuantity, string(rule.DiscountType), rule.DiscountValue, rule.Description,
		rule.Active, rule.Priority, rule.StartsAt, rule.EndsAt, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing promotion %q: %w", rule.ID, err)
	}
	return nil
}

// RecordApplication inserts an application log row.
func (r *PromotionRepository) RecordApplication(ctx context.Context, app *promotion.Application) error {
	_, err := r.pool.Exec(ctx, insertApplicationSQL,
		app.ID, app.PromotionID, app.UserID, app.TotalQuantity,
		app.OriginalTotal, app.DiscountAmount, app.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("recording application of promotion %q: %w", app.PromotionID, err)
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (promotion.Rule, error) {
	var (
		rule         promotion.Rule
		discountType string
		minQuantity  int32
		priority     int32
	)
	err := row.Scan(
		&rule.ID, &minQuantity, &discountType, &rule.DiscountValue, &rule.Description,
		&rule.Active, &priority, &rule.StartsAt, &rule.EndsAt, &rule.CreatedAt,
	)
	rule.DiscountType = promotion.DiscountType(discountType)
	rule.MinQuantity = int(minQuantity)
	rule.Priority = int(priority)
	return rule, err
}
