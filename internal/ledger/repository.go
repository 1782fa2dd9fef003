package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/catalog"
)

// Repository persists the lot books and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the engine.
// Every ledger operation runs against exactly one TxRepository; composing
// callers receive one from WithTx and pass it through.
type TxRepository interface {
	GetStockItemForUpdate(ctx context.Context, item ItemRef, loc Location) (StockItem, error)
	CreateStockItem(ctx context.Context, item StockItem) (int64, error)
	UpdateStockItem(ctx context.Context, item StockItem) error
	InsertBatch(ctx context.Context, stockItemID int64, b Batch) error
	UpdateBatchQty(ctx context.Context, batchID string, qty decimal.Decimal) error
	DeleteBatch(ctx context.Context, batchID string) error
	InsertArchivedBatch(ctx context.Context, ab ArchivedBatch) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpdateMovementStatus(ctx context.Context, movementID int64, status MovementStatus) error
	ListActiveMovementsByRef(ctx context.Context, refID string, movementType MovementType) ([]Movement, error)
	GlobalMaxUnitCost(ctx context.Context, item ItemRef) (decimal.Decimal, error)
	SetCatalogMaxPrice(ctx context.Context, item ItemRef, price decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
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

// Bind wraps an externally opened pgx transaction so several ledger calls
// compose into one atomic unit owned by the caller.
func Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetStockItemForUpdate(ctx context.Context, item ItemRef, loc Location) (StockItem, error) {
	var si StockItem
	err := r.tx.QueryRow(ctx, `SELECT id, item_type, item_id, location, total_stock, quantity_reserved, average_cost,
min_purchase_price, max_purchase_price, last_purchase_price, search_name, search_code, unit_measure, created_at, updated_at
FROM stock_items WHERE item_type=$1 AND item_id=$2 AND location=$3 FOR UPDATE`, string(item.Type), item.ID, string(loc)).
		Scan(&si.ID, &si.Item.Type, &si.Item.ID, &si.Location, &si.TotalStock, &si.QuantityReserved, &si.AverageCost,
			&si.MinPurchasePrice, &si.MaxPurchasePrice, &si.LastPurchasePrice, &si.SearchName, &si.SearchCode, &si.UnitMeasure, &si.CreatedAt, &si.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, ErrItemNotFound
	}
	if err != nil {
		return StockItem{}, fmt.Errorf("ledger: load stock item: %w", err)
	}

	rows, err := r.tx.Query(ctx, `SELECT id, qty, initial_qty, unit_cost, entered_at, movement_id, supplier_id, quality, order_ref
FROM stock_batches WHERE stock_item_id=$1 ORDER BY entered_at ASC, id ASC`, si.ID)
	if err != nil {
		return StockItem{}, fmt.Errorf("ledger: load batches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b Batch
		var quality []byte
		if err := rows.Scan(&b.ID, &b.Qty, &b.InitialQty, &b.UnitCost, &b.EnteredAt, &b.MovementID, &b.SupplierID, &quality, &b.OrderRef); err != nil {
			return StockItem{}, fmt.Errorf("ledger: scan batch: %w", err)
		}
		if len(quality) > 0 {
			if err := json.Unmarshal(quality, &b.Quality); err != nil {
				return StockItem{}, fmt.Errorf("ledger: decode batch quality: %w", err)
			}
		}
		si.Batches = append(si.Batches, b)
	}
	if err := rows.Err(); err != nil {
		return StockItem{}, err
	}
	return si, nil
}

func (r *txRepository) CreateStockItem(ctx context.Context, item StockItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_items (item_type, item_id, location, total_stock, quantity_reserved, average_cost,
min_purchase_price, max_purchase_price, last_purchase_price, search_name, search_code, unit_measure, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW()) RETURNING id`,
		string(item.Item.Type), item.Item.ID, string(item.Location), item.TotalStock, item.QuantityReserved, item.AverageCost,
		item.MinPurchasePrice, item.MaxPurchasePrice, item.LastPurchasePrice, item.SearchName, item.SearchCode, item.UnitMeasure).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: create stock item: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdateStockItem(ctx context.Context, item StockItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET total_stock=$1, quantity_reserved=$2, average_cost=$3,
min_purchase_price=$4, max_purchase_price=$5, last_purchase_price=$6, search_name=$7, search_code=$8, unit_measure=$9, updated_at=NOW()
WHERE id=$10`,
		item.TotalStock, item.QuantityReserved, item.AverageCost,
		item.MinPurchasePrice, item.MaxPurchasePrice, item.LastPurchasePrice, item.SearchName, item.SearchCode, item.UnitMeasure, item.ID)
	if err != nil {
		return fmt.Errorf("ledger: update stock item: %w", err)
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, stockItemID int64, b Batch) error {
	quality, err := json.Marshal(b.Quality)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO stock_batches (id, stock_item_id, qty, initial_qty, unit_cost, entered_at, movement_id, supplier_id, quality, order_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ID, stockItemID, b.Qty, b.InitialQty, b.UnitCost, b.EnteredAt, b.MovementID, b.SupplierID, quality, b.OrderRef)
	if err != nil {
		return fmt.Errorf("ledger: insert batch: %w", err)
	}
	return nil
}

func (r *txRepository) UpdateBatchQty(ctx context.Context, batchID string, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET qty=$1 WHERE id=$2`, qty, batchID)
	if err != nil {
		return fmt.Errorf("ledger: update batch qty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) DeleteBatch(ctx context.Context, batchID string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_batches WHERE id=$1`, batchID)
	if err != nil {
		return fmt.Errorf("ledger: delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) InsertArchivedBatch(ctx context.Context, ab ArchivedBatch) error {
	quality, err := json.Marshal(ab.Quality)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO archived_batches (batch_id, stock_item_id, item_type, item_id, location, qty, unit_cost, entered_at, movement_id, supplier_id, quality, archived_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
		ab.BatchID, ab.StockItemID, string(ab.Item.Type), ab.Item.ID, string(ab.Location), ab.Qty, ab.UnitCost, ab.EnteredAt, ab.MovementID, ab.SupplierID, quality)
	if err != nil {
		return fmt.Errorf("ledger: insert archived batch: %w", err)
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	breakdown, err := json.Marshal(m.Breakdown)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_type, item_id, movement_type, qty, unit_measure, location_from, location_to,
balance_before, balance_after, unit_cost, line_cost, cost_breakdown, actor_id, supplier_name, client_name, ref_id, transfer_group, note, status, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20) RETURNING id`,
		string(m.Item.Type), m.Item.ID, string(m.Type), m.Qty, m.UnitMeasure, nullLocation(m.LocationFrom), nullLocation(m.LocationTo),
		m.BalanceBefore, m.BalanceAfter, m.UnitCost, m.LineCost, breakdown, m.ActorID, m.SupplierName, m.ClientName,
		nullString(m.RefID), nullString(m.TransferGroup), m.Note, string(m.Status), m.OccurredAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert movement: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdateMovementStatus(ctx context.Context, movementID int64, status MovementStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movements SET status=$1 WHERE id=$2`, string(status), movementID)
	if err != nil {
		return fmt.Errorf("ledger: update movement status: %w", err)
	}
	return nil
}

func (r *txRepository) ListActiveMovementsByRef(ctx context.Context, refID string, movementType MovementType) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, item_type, item_id, movement_type, qty, unit_measure, COALESCE(location_from,''), COALESCE(location_to,''),
balance_before, balance_after, unit_cost, line_cost, cost_breakdown, actor_id, supplier_name, client_name, COALESCE(ref_id,''), COALESCE(transfer_group,''), note, status, occurred_at
FROM stock_movements WHERE ref_id=$1 AND movement_type=$2 AND status=$3 ORDER BY occurred_at ASC, id ASC`,
		refID, string(movementType), string(MovementActive))
	if err != nil {
		return nil, fmt.Errorf("ledger: list movements by ref: %w", err)
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GlobalMaxUnitCost(ctx context.Context, item ItemRef) (decimal.Decimal, error) {
	var max decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(b.unit_cost), 0)
FROM stock_batches b JOIN stock_items i ON i.id = b.stock_item_id
WHERE i.item_type=$1 AND i.item_id=$2 AND b.qty > 0`, string(item.Type), item.ID).Scan(&max)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: global max unit cost: %w", err)
	}
	return max, nil
}

func (r *txRepository) SetCatalogMaxPrice(ctx context.Context, item ItemRef, price decimal.Decimal) error {
	var table string
	switch item.Type {
	case catalog.ItemTypeProduct:
		table = "products"
	case catalog.ItemTypePackaging:
		table = "packagings"
	default:
		return catalog.ErrUnknownItemType
	}
	_, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET max_purchase_price=$1, updated_at=NOW() WHERE id=$2`, table), price, item.ID)
	if err != nil {
		return fmt.Errorf("ledger: set catalog max price: %w", err)
	}
	return nil
}

func scanMovement(rows pgx.Rows) (Movement, error) {
	var m Movement
	var breakdown []byte
	if err := rows.Scan(&m.ID, &m.Item.Type, &m.Item.ID, &m.Type, &m.Qty, &m.UnitMeasure, &m.LocationFrom, &m.LocationTo,
		&m.BalanceBefore, &m.BalanceAfter, &m.UnitCost, &m.LineCost, &breakdown, &m.ActorID, &m.SupplierName, &m.ClientName,
		&m.RefID, &m.TransferGroup, &m.Note, &m.Status, &m.OccurredAt); err != nil {
		return Movement{}, fmt.Errorf("ledger: scan movement: %w", err)
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &m.Breakdown); err != nil {
			return Movement{}, fmt.Errorf("ledger: decode cost breakdown: %w", err)
		}
	}
	return m, nil
}

func nullLocation(loc Location) any {
	if loc == "" {
		return nil
	}
	return string(loc)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
