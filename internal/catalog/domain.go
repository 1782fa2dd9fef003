package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ItemType discriminates the two kinds of stockable goods.
type ItemType string

const (
	// ItemTypeProduct identifies a finished or raw-material product.
	ItemTypeProduct ItemType = "ERP_PRODUCT"
	// ItemTypePackaging identifies a packaging unit (boxes, pallets, wrap).
	ItemTypePackaging ItemType = "PACKAGING"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeProduct || t == ItemTypePackaging
}

// Stockable is the capability set shared by products and packaging units.
type Stockable interface {
	StockableID() int64
	StockableType() ItemType
	DisplayName() string
	DisplayCode() string
	BaseUnit() string
	// ConversionFactor converts one handling unit into base units
	// (pallet size for products, bundle size for packaging).
	ConversionFactor() decimal.Decimal
}

// Product is a sellable or consumable good tracked in base units.
type Product struct {
	ID               int64
	Name             string
	Code             string
	Unit             string
	UnitsPerPallet   decimal.Decimal
	MaxPurchasePrice decimal.Decimal
}

func (p Product) StockableID() int64      { return p.ID }
func (p Product) StockableType() ItemType { return ItemTypeProduct }
func (p Product) DisplayName() string     { return p.Name }
func (p Product) DisplayCode() string     { return p.Code }
func (p Product) BaseUnit() string        { return p.Unit }

func (p Product) ConversionFactor() decimal.Decimal {
	if p.UnitsPerPallet.IsPositive() {
		return p.UnitsPerPallet
	}
	return decimal.NewFromInt(1)
}

// Packaging is a packaging unit bought and consumed alongside products.
type Packaging struct {
	ID               int64
	Name             string
	Code             string
	Unit             string
	UnitsPerBundle   decimal.Decimal
	MaxPurchasePrice decimal.Decimal
}

func (p Packaging) StockableID() int64      { return p.ID }
func (p Packaging) StockableType() ItemType { return ItemTypePackaging }
func (p Packaging) DisplayName() string     { return p.Name }
func (p Packaging) DisplayCode() string     { return p.Code }
func (p Packaging) BaseUnit() string        { return p.Unit }

func (p Packaging) ConversionFactor() decimal.Decimal {
	if p.UnitsPerBundle.IsPositive() {
		return p.UnitsPerBundle
	}
	return decimal.NewFromInt(1)
}

// ErrItemNotFound indicates the stockable item does not exist.
var ErrItemNotFound = errors.New("catalog: stockable item not found")

// ErrUnknownItemType indicates an unsupported discriminant value.
var ErrUnknownItemType = errors.New("catalog: unknown stockable item type")
