package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/catalog"
)

// Location identifies where stock physically or virtually sits. Known
// warehouse codes are enumerated below; free-form project identifiers are
// also accepted.
type Location string

const (
	// LocationWarehouse is the main warehouse.
	LocationWarehouse Location = "WAREHOUSE"
	// LocationInTransit holds goods between two locations.
	LocationInTransit Location = "IN_TRANSIT"
	// LocationSupplierCustody holds goods stored at a supplier's site.
	LocationSupplierCustody Location = "SUPPLIER_CUSTODY"
)

// ClientCustody returns the dedicated custody location for a client.
func ClientCustody(clientID int64) Location {
	return Location(fmt.Sprintf("CLIENT_CUSTODY-%d", clientID))
}

// ItemRef identifies a stockable item together with its type discriminant.
type ItemRef struct {
	Type catalog.ItemType `json:"type"`
	ID   int64            `json:"id"`
}

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementReceipt        MovementType = "RECEIPT"
	MovementSale           MovementType = "SALE"
	MovementSaleDelivery   MovementType = "SALE_DELIVERY"
	MovementConsumption    MovementType = "CONSUMPTION"
	MovementLoss           MovementType = "LOSS"
	MovementDamage         MovementType = "DAMAGE"
	MovementInventoryPlus  MovementType = "INVENTORY_PLUS"
	MovementInventoryMinus MovementType = "INVENTORY_MINUS"
	MovementTransferIn     MovementType = "TRANSFER_IN"
	MovementTransferOut    MovementType = "TRANSFER_OUT"
	MovementReceiptCancel  MovementType = "RECEIPT_CANCEL"
	MovementReturn         MovementType = "RETURN"
)

var inboundTypes = map[MovementType]bool{
	MovementReceipt:       true,
	MovementTransferIn:    true,
	MovementReturn:        true,
	MovementInventoryPlus: true,
}

var outboundTypes = map[MovementType]bool{
	MovementSale:           true,
	MovementSaleDelivery:   true,
	MovementConsumption:    true,
	MovementLoss:           true,
	MovementDamage:         true,
	MovementInventoryMinus: true,
	MovementTransferOut:    true,
	MovementReceiptCancel:  true,
}

// Inbound reports whether t adds stock to its audit location.
func (t MovementType) Inbound() bool { return inboundTypes[t] }

// Outbound reports whether t removes stock from its audit location.
func (t MovementType) Outbound() bool { return outboundTypes[t] }

// Known reports whether t belongs to the movement type table.
func (t MovementType) Known() bool { return inboundTypes[t] || outboundTypes[t] }

// MovementStatus tracks the lifecycle of a movement record.
type MovementStatus string

const (
	// MovementActive is the normal state of a posted movement.
	MovementActive MovementStatus = "ACTIVE"
	// MovementCancelled marks a movement voided by a compensating entry.
	MovementCancelled MovementStatus = "CANCELLED"
)

// FragmentKind distinguishes cost fragments backed by a real lot from
// provisional ones charged against not-yet-received stock.
type FragmentKind string

const (
	FragmentReal        FragmentKind = "REAL"
	FragmentProvisional FragmentKind = "PROVISIONAL"
)

// QualityMeta carries traceability metadata attached to a lot.
type QualityMeta struct {
	LotNumber  string `json:"lot_number,omitempty"`
	CertNumber string `json:"cert_number,omitempty"`
	TestReport string `json:"test_report,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Empty reports whether no metadata field is set.
func (m QualityMeta) Empty() bool {
	return m == QualityMeta{}
}

// Batch is one open lot: a quantity entered at a specific cost and time,
// consumed before later lots.
type Batch struct {
	ID string
	// Qty is the remaining quantity; InitialQty is the quantity the lot
	// entered with, kept for the archival record.
	Qty        decimal.Decimal
	InitialQty decimal.Decimal
	UnitCost   decimal.Decimal
	EnteredAt  time.Time
	MovementID int64
	SupplierID *int64
	Quality    QualityMeta
	OrderRef   string
}

// StockItem is the lot book for one (item, location) pair, plus the derived
// summary. The summary fields are recomputed by recalcSummary, never edited
// by hand.
type StockItem struct {
	ID       int64
	Item     ItemRef
	Location Location
	Batches  []Batch

	TotalStock        decimal.Decimal
	QuantityReserved  decimal.Decimal
	AverageCost       decimal.Decimal
	MinPurchasePrice  decimal.Decimal
	MaxPurchasePrice  decimal.Decimal
	LastPurchasePrice decimal.Decimal

	// Denormalised from the catalog for filtering without joins; refreshed
	// on every write, never authoritative.
	SearchName  string
	SearchCode  string
	UnitMeasure string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CostFragment is one consumed slice of a lot inside a movement's cost
// breakdown.
type CostFragment struct {
	BatchID  string          `json:"batch_id,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Cost     decimal.Decimal `json:"cost"`
	Kind     FragmentKind    `json:"kind"`
}

// CostInfo summarises the FIFO cost of an outbound movement for callers
// that post it elsewhere (cost of goods sold).
type CostInfo struct {
	UnitCost  decimal.Decimal
	LineCost  decimal.Decimal
	Breakdown []CostFragment
}

// Movement is the append-only audit record of a single quantity change.
type Movement struct {
	ID            int64
	Item          ItemRef
	Type          MovementType
	Qty           decimal.Decimal
	UnitMeasure   string
	LocationFrom  Location
	LocationTo    Location
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	UnitCost      decimal.Decimal
	LineCost      decimal.Decimal
	Breakdown     []CostFragment
	ActorID       int64
	SupplierName  string
	ClientName    string
	RefID         string
	TransferGroup string
	Note          string
	Status        MovementStatus
	OccurredAt    time.Time
}

// ArchivedBatch is the immutable record of a fully consumed lot.
type ArchivedBatch struct {
	ID          int64
	BatchID     string
	StockItemID int64
	Item        ItemRef
	Location    Location
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	EnteredAt   time.Time
	MovementID  int64
	SupplierID  *int64
	Quality     QualityMeta
	ArchivedAt  time.Time
}

// MovementInput is a validated request to record one movement.
type MovementInput struct {
	Item         ItemRef
	Type         MovementType
	Qty          decimal.Decimal
	LocationFrom Location
	LocationTo   Location
	UnitCost     *decimal.Decimal
	SupplierID   *int64
	ClientID     *int64
	Quality      QualityMeta
	RefID        string
	OrderRef     string
	ActorID      int64
	Note         string
	OccurredAt   time.Time
}

// TransferInput moves part or all of a named lot between locations.
type TransferInput struct {
	Item    ItemRef
	BatchID string
	Qty     decimal.Decimal
	From    Location
	To      Location
	ActorID int64
	Note    string
}

// AdjustDirection selects the manual adjustment direction.
type AdjustDirection string

const (
	AdjustIncrease AdjustDirection = "INCREASE"
	AdjustDecrease AdjustDirection = "DECREASE"
)

// AdjustInput is a manual stock correction.
type AdjustInput struct {
	Item      ItemRef
	Location  Location
	Direction AdjustDirection
	Qty       decimal.Decimal
	// BatchID is required for decreases; optional for increases (when set,
	// the increase keeps that lot's cost and metadata).
	BatchID  string
	UnitCost *decimal.Decimal
	Reason   string
	ActorID  int64
}

// Validation and consistency errors surfaced by the engine.
var (
	ErrUnknownMovementType = errors.New("ledger: unknown movement type")
	ErrMissingLocation     = errors.New("ledger: movement requires an audit location")
	ErrMissingUnitCost     = errors.New("ledger: inbound movement requires a unit cost")
	ErrInvalidQuantity     = errors.New("ledger: quantity must be positive")
	ErrBatchNotFound       = errors.New("ledger: batch not found")
	ErrItemNotFound        = errors.New("ledger: stock item not found")
	ErrBatchRequired       = errors.New("ledger: operation requires a named batch")
	ErrSameLocation        = errors.New("ledger: transfer source and destination must differ")
	ErrNothingToReverse    = errors.New("ledger: no active receipt movements for reference")
	// ErrBatchConsumed blocks reversal of a lot that has been fully consumed
	// and archived; the goods already left and cost history must stand.
	ErrBatchConsumed = errors.New("ledger: batch already fully consumed, reversal would corrupt cost history")
)

// InsufficientError reports an operation against a lot that cannot cover the
// requested quantity. Surfaced verbatim to the operator.
type InsufficientError struct {
	BatchID   string
	Available decimal.Decimal
	Requested decimal.Decimal
	Hint      string
}

func (e *InsufficientError) Error() string {
	msg := fmt.Sprintf("ledger: insufficient quantity on batch %s: available %s, requested %s",
		e.BatchID, e.Available.String(), e.Requested.String())
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}
