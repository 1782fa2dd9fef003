package reservation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
)

// Repository persists reservations and the reserved-quantity counters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	AvailabilityForUpdate(ctx context.Context, item ledger.ItemRef, loc ledger.Location) (Availability, error)
	EnsureStockItem(ctx context.Context, item ledger.ItemRef, loc ledger.Location) (int64, error)
	AddReserved(ctx context.Context, stockItemID int64, delta decimal.Decimal) error
	InsertReservation(ctx context.Context, r Reservation) (int64, error)
	ListActiveByOrder(ctx context.Context, orderID int64, lineIDs []int64) ([]Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status Status) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Bind wraps an externally opened pgx transaction.
func Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) AvailabilityForUpdate(ctx context.Context, item ledger.ItemRef, loc ledger.Location) (Availability, error) {
	var a Availability
	err := r.tx.QueryRow(ctx, `SELECT id, total_stock, quantity_reserved FROM stock_items
WHERE item_type=$1 AND item_id=$2 AND location=$3 FOR UPDATE`,
		string(item.Type), item.ID, string(loc)).
		Scan(&a.StockItemID, &a.TotalStock, &a.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Availability{}, ledger.ErrItemNotFound
	}
	if err != nil {
		return Availability{}, err
	}
	return a, nil
}

func (r *txRepository) EnsureStockItem(ctx context.Context, item ledger.ItemRef, loc ledger.Location) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_items (item_type, item_id, location)
VALUES ($1, $2, $3)
ON CONFLICT (item_type, item_id, location) DO UPDATE SET updated_at = now()
RETURNING id`, string(item.Type), item.ID, string(loc)).Scan(&id)
	return id, err
}

func (r *txRepository) AddReserved(ctx context.Context, stockItemID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items
SET quantity_reserved = quantity_reserved + $2, updated_at = now()
WHERE id = $1`, stockItemID, delta)
	return err
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reservations
(order_id, line_id, item_type, item_id, location, qty, backorder, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		res.OrderID, res.LineID, string(res.Item.Type), res.Item.ID,
		string(res.Location), res.Qty, res.Backorder, string(res.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) ListActiveByOrder(ctx context.Context, orderID int64, lineIDs []int64) ([]Reservation, error) {
	query := `SELECT id, order_id, line_id, item_type, item_id, location, qty, backorder, status, created_at, updated_at
FROM stock_reservations WHERE order_id=$1 AND status='ACTIVE'`
	args := []any{orderID}
	if len(lineIDs) > 0 {
		query += ` AND line_id = ANY($2)`
		args = append(args, lineIDs)
	}
	query += ` ORDER BY id FOR UPDATE`

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.LineID, &res.Item.Type, &res.Item.ID,
			&res.Location, &res.Qty, &res.Backorder, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, updated_at=now() WHERE id=$1`,
		id, string(status))
	return err
}
