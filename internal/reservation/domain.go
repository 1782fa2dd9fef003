package reservation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
)

// Status is the lifecycle state of a reservation fragment.
type Status string

const (
	// StatusActive holds stock against an open order line.
	StatusActive Status = "ACTIVE"
	// StatusFulfilled marks the fragment consumed by a delivery.
	StatusFulfilled Status = "FULFILLED"
	// StatusCancelled releases the held quantity back to free stock.
	StatusCancelled Status = "CANCELLED"
)

// Reservation is one held quantity at one location for one order line. A
// line whose demand cascades over several locations produces one fragment
// per location.
type Reservation struct {
	ID        int64
	OrderID   int64
	LineID    int64
	Item      ledger.ItemRef
	Location  ledger.Location
	Qty       decimal.Decimal
	Backorder bool
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is one order line to reserve stock for.
type Line struct {
	LineID int64
	Item   ledger.ItemRef
	Qty    decimal.Decimal
}

// Availability is the free quantity of one stock item at one location.
type Availability struct {
	StockItemID int64
	TotalStock  decimal.Decimal
	Reserved    decimal.Decimal
}

// Free returns the quantity not yet held by reservations.
func (a Availability) Free() decimal.Decimal {
	return a.TotalStock.Sub(a.Reserved)
}

var (
	// ErrNothingReserved indicates no active reservation matched the request.
	ErrNothingReserved = errors.New("reservation: no active reservation found")
	// ErrInvalidLine indicates a line with a non-positive quantity.
	ErrInvalidLine = errors.New("reservation: line quantity must be positive")
)
