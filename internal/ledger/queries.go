package ledger

import (
	"context"
	"fmt"

	"github.com/stockbook/stockbook/internal/shared"
)

// StockFilter narrows the stock-by-location listing.
type StockFilter struct {
	Location Location
	Search   string
	Page     int
	PerPage  int
}

// StockSummary is one row of the stock listings: the derived summary of a
// (item, location) pair without its batch detail.
type StockSummary struct {
	Item              ItemRef  `json:"item"`
	Location          Location `json:"location"`
	Name              string   `json:"name"`
	Code              string   `json:"code"`
	UnitMeasure       string   `json:"unit_measure"`
	TotalStock        string   `json:"total_stock"`
	QuantityReserved  string   `json:"quantity_reserved"`
	AverageCost       string   `json:"average_cost"`
	MinPurchasePrice  string   `json:"min_purchase_price"`
	MaxPurchasePrice  string   `json:"max_purchase_price"`
	LastPurchasePrice string   `json:"last_purchase_price"`
	OpenBatches       int      `json:"open_batches"`
}

// ListStock returns a paginated stock-by-location view.
func (r *Repository) ListStock(ctx context.Context, filter StockFilter) ([]StockSummary, shared.Pagination, error) {
	where := `WHERE ($1 = '' OR i.location = $1)
  AND ($2 = '' OR i.search_name ILIKE '%' || $2 || '%' OR i.search_code ILIKE '%' || $2 || '%')`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_items i `+where, string(filter.Location), filter.Search).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: count stock: %w", err)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT i.item_type, i.item_id, i.location, i.search_name, i.search_code, i.unit_measure,
i.total_stock, i.quantity_reserved, i.average_cost, i.min_purchase_price, i.max_purchase_price, i.last_purchase_price,
(SELECT COUNT(*) FROM stock_batches b WHERE b.stock_item_id = i.id) AS open_batches
FROM stock_items i `+where+`
ORDER BY i.search_name ASC, i.location ASC
LIMIT $3 OFFSET $4`, string(filter.Location), filter.Search, page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: list stock: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return summaries, page, nil
}

// StockByItem returns one summary per location holding the item.
func (r *Repository) StockByItem(ctx context.Context, item ItemRef) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.item_type, i.item_id, i.location, i.search_name, i.search_code, i.unit_measure,
i.total_stock, i.quantity_reserved, i.average_cost, i.min_purchase_price, i.max_purchase_price, i.last_purchase_price,
(SELECT COUNT(*) FROM stock_batches b WHERE b.stock_item_id = i.id) AS open_batches
FROM stock_items i
WHERE i.item_type=$1 AND i.item_id=$2
ORDER BY i.location ASC`, string(item.Type), item.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger: stock by item: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// HistoryFilter narrows the movement ledger for one item.
type HistoryFilter struct {
	Item     ItemRef
	Location Location
	Page     int
	PerPage  int
}

// MovementHistory returns the per-item movement ledger, newest first, with
// an optional location filter matching either side of the movement.
func (r *Repository) MovementHistory(ctx context.Context, filter HistoryFilter) ([]Movement, shared.Pagination, error) {
	where := `WHERE m.item_type=$1 AND m.item_id=$2
  AND ($3 = '' OR m.location_from = $3 OR m.location_to = $3)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements m `+where,
		string(filter.Item.Type), filter.Item.ID, string(filter.Location)).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: count movements: %w", err)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT m.id, m.item_type, m.item_id, m.movement_type, m.qty, m.unit_measure,
COALESCE(m.location_from,''), COALESCE(m.location_to,''), m.balance_before, m.balance_after, m.unit_cost, m.line_cost,
m.cost_breakdown, m.actor_id, m.supplier_name, m.client_name, COALESCE(m.ref_id,''), COALESCE(m.transfer_group,''), m.note, m.status, m.occurred_at
FROM stock_movements m `+where+`
ORDER BY m.occurred_at DESC, m.id DESC
LIMIT $4 OFFSET $5`, string(filter.Item.Type), filter.Item.ID, string(filter.Location), page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: movement history: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, page, nil
}

func scanSummaries(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]StockSummary, error) {
	var summaries []StockSummary
	for rows.Next() {
		var s StockSummary
		var item StockItem
		if err := rows.Scan(&item.Item.Type, &item.Item.ID, &item.Location, &item.SearchName, &item.SearchCode, &item.UnitMeasure,
			&item.TotalStock, &item.QuantityReserved, &item.AverageCost, &item.MinPurchasePrice, &item.MaxPurchasePrice,
			&item.LastPurchasePrice, &s.OpenBatches); err != nil {
			return nil, fmt.Errorf("ledger: scan stock summary: %w", err)
		}
		s.Item = item.Item
		s.Location = item.Location
		s.Name = item.SearchName
		s.Code = item.SearchCode
		s.UnitMeasure = item.UnitMeasure
		s.TotalStock = item.TotalStock.String()
		s.QuantityReserved = item.QuantityReserved.String()
		s.AverageCost = item.AverageCost.String()
		s.MinPurchasePrice = item.MinPurchasePrice.String()
		s.MaxPurchasePrice = item.MaxPurchasePrice.String()
		s.LastPurchasePrice = item.LastPurchasePrice.String()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
