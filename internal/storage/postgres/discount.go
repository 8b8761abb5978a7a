package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/sos-pricing/internal/domain/discount"
)

const (
	getDiscountCodeSQL = `SELECT id, code, type, amount, active, expires_at,
		max_redemptions, usage_count, created_at
		FROM discount_codes WHERE code = UPPER(BTRIM($1))`

	insertRedemptionSQL = `INSERT INTO discount_redemptions
		(id, discount_code_id, user_id, reference, discount, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (discount_code_id, reference) DO NOTHING`

	getRedemptionSQL = `SELECT id, discount_code_id, user_id, reference, discount, redeemed_at
		FROM discount_redemptions WHERE discount_code_id = $1 AND reference = $2`

	incrementUsageSQL = `UPDATE discount_codes SET usage_count = usage_count + 1
		WHERE id = $1 AND (max_redemptions IS NULL OR usage_count < max_redemptions)`

	insertDiscountCodeSQL = `INSERT INTO discount_codes
		(id, code, type, amount, active, expires_at, max_redemptions, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	importDiscountCodeSQL = insertDiscountCodeSQL + ` ON CONFLICT (code) DO NOTHING`

	uniqueViolation = "23505"
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks a code up by its normalized form.
// Returns discount.ErrNotFound when no code matches.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getDiscountCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanDiscountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	return &c, nil
}

// Redeem records the redemption and takes one usage slot in a single
// transaction. The conditional UPDATE is what enforces the cap: when two
// checkouts race for the last slot, the second one re-evaluates the WHERE
// clause after the first commits, matches no row and rolls back.
func (r *DiscountRepository) Redeem(ctx context.Context, red *discount.Redemption) (*discount.Redemption, error) {
	var prior *discount.Redemption
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertRedemptionSQL,
			red.ID, red.CodeID, red.UserID, red.Reference, red.Discount, red.RedeemedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting redemption: %w", err)
		}
		if tag.RowsAffected() == 0 {
			rows, err := tx.Query(ctx, getRedemptionSQL, red.CodeID, red.Reference)
			if err != nil {
				return fmt.Errorf("loading prior redemption: %w", err)
			}
			p, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
			if err != nil {
				return fmt.Errorf("loading prior redemption: %w", err)
			}
			prior = &p
			return nil
		}

		tag, err = tx.Exec(ctx, incrementUsageSQL, red.CodeID)
		if err != nil {
			return fmt.Errorf("incrementing usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return discount.ErrExhausted
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, discount.ErrExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("redeeming discount code %q: %w", red.CodeID, err)
	}
	return prior, nil
}

// CreateCode inserts a new code. Returns discount.ErrDuplicateCode when the
// code already exists.
func (r *DiscountRepository) CreateCode(ctx context.Context, c *discount.Code) error {
	_, err := r.pool.Exec(ctx, insertDiscountCodeSQL, codeArgs(c)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return discount.ErrDuplicateCode
		}
		return fmt.Errorf("creating discount code %q: %w", c.Code, err)
	}
	return nil
}

// ImportCodes inserts codes in one batch, skipping codes that already exist.
// It returns the number of rows inserted.
func (r *DiscountRepository) ImportCodes(ctx context.Context, codes []discount.Code) (int64, error) {
	batch := &pgx.Batch{}
	for i := range codes {
		batch.Queue(importDiscountCodeSQL, codeArgs(&codes[i])...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range codes {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("importing discount codes: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func codeArgs(c *discount.Code) []any {
	var maxRedemptions *int32
	if c.MaxRedemptions != nil {
		v := int32(*c.MaxRedemptions)
		maxRedemptions = &v
	}
	return []any{
		c.ID, c.Code, string(c.Type), c.Amount, c.Active, c.ExpiresAt,
		maxRedemptions, int32(c.UsageCount), c.CreatedAt,
	}
}

func scanDiscountCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c              discount.Code
		codeType       string
		amount         decimal.Decimal
		expiresAt      *time.Time
		maxRedemptions *int32
		usageCount     int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &codeType, &amount, &c.Active, &expiresAt,
		&maxRedemptions, &usageCount, &c.CreatedAt,
	)
	c.Type = discount.Type(codeType)
	c.Amount = amount
	c.ExpiresAt = expiresAt
	if maxRedemptions != nil {
		v := int(*maxRedemptions)
		c.MaxRedemptions = &v
	}
	c.UsageCount = int(usageCount)
	return c, err
}

func scanRedemption(row pgx.CollectableRow) (discount.Redemption, error) {
	var red discount.Redemption
	err := row.Scan(&red.ID, &red.CodeID, &red.UserID, &red.Reference, &red.Discount, &red.RedeemedAt)
	return red, err
}
