package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads item, supplier and client master data from PostgreSQL.
// It is the authority for the display fields the ledger denormalises.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get resolves a stockable item by type and id.
func (r *Repository) Get(ctx context.Context, itemType ItemType, id int64) (Stockable, error) {
	switch itemType {
	case ItemTypeProduct:
		var p Product
		err := r.pool.QueryRow(ctx, `SELECT id, name, code, unit, units_per_pallet, max_purchase_price FROM products WHERE id=$1`, id).
			Scan(&p.ID, &p.Name, &p.Code, &p.Unit, &p.UnitsPerPallet, &p.MaxPurchasePrice)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: get product %d: %w", id, err)
		}
		return p, nil
	case ItemTypePackaging:
		var p Packaging
		err := r.pool.QueryRow(ctx, `SELECT id, name, code, unit, units_per_bundle, max_purchase_price FROM packagings WHERE id=$1`, id).
			Scan(&p.ID, &p.Name, &p.Code, &p.Unit, &p.UnitsPerBundle, &p.MaxPurchasePrice)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: get packaging %d: %w", id, err)
		}
		return p, nil
	default:
		return nil, ErrUnknownItemType
	}
}

// SupplierName resolves a supplier display name.
func (r *Repository) SupplierName(ctx context.Context, id int64) (string, error) {
	return r.lookupName(ctx, `SELECT name FROM suppliers WHERE id=$1`, id)
}

// ClientName resolves a client display name.
func (r *Repository) ClientName(ctx context.Context, id int64) (string, error) {
	return r.lookupName(ctx, `SELECT name FROM clients WHERE id=$1`, id)
}

func (r *Repository) lookupName(ctx context.Context, query string, id int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, query, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
