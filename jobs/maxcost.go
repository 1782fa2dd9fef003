package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxCostReconciler repairs drift between the catalog's max purchase price
// and the highest open-lot cost. The engine propagates the maximum on every
// write; this job is the safety net if that propagation ever goes async or
// is bypassed by manual data fixes.
type MaxCostReconciler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMaxCostReconciler constructs MaxCostReconciler.
func NewMaxCostReconciler(pool *pgxpool.Pool, logger *slog.Logger) *MaxCostReconciler {
	return &MaxCostReconciler{pool: pool, logger: logger}
}

// Run recomputes the max price for every item that still has open lots and
// zeroes it for items whose lots are all gone.
func (r *MaxCostReconciler) Run(ctx context.Context) error {
	products, err := r.pool.Exec(ctx, `UPDATE products p SET max_purchase_price = COALESCE(src.max_cost, 0)
FROM (
	SELECT si.item_id, MAX(sb.unit_cost) AS max_cost
	FROM stock_items si
	LEFT JOIN stock_batches sb ON sb.stock_item_id = si.id
	WHERE si.item_type = 'ERP_PRODUCT'
	GROUP BY si.item_id
) src
WHERE p.id = src.item_id AND p.max_purchase_price IS DISTINCT FROM COALESCE(src.max_cost, 0)`)
	if err != nil {
		return err
	}
	packagings, err := r.pool.Exec(ctx, `UPDATE packagings p SET max_purchase_price = COALESCE(src.max_cost, 0)
FROM (
	SELECT si.item_id, MAX(sb.unit_cost) AS max_cost
	FROM stock_items si
	LEFT JOIN stock_batches sb ON sb.stock_item_id = si.id
	WHERE si.item_type = 'PACKAGING'
	GROUP BY si.item_id
) src
WHERE p.id = src.item_id AND p.max_purchase_price IS DISTINCT FROM COALESCE(src.max_cost, 0)`)
	if err != nil {
		return err
	}
	r.logger.Info("max cost reconciled",
		slog.Int64("products", products.RowsAffected()),
		slog.Int64("packagings", packagings.RowsAffected()))
	return nil
}

// Handler adapts Run to an Asynq handler.
func (r *MaxCostReconciler) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return r.Run(ctx)
	}
}
