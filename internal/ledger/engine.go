package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/shared"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CatalogPort resolves item, supplier and client master data.
type CatalogPort interface {
	Get(ctx context.Context, itemType catalog.ItemType, id int64) (catalog.Stockable, error)
	SupplierName(ctx context.Context, id int64) (string, error)
	ClientName(ctx context.Context, id int64) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine orchestrates every write against the lot books: movements,
// reversals, transfers and manual adjustments. Each public operation is one
// atomic transaction; the *Tx variants compose into a caller-owned
// transaction instead.
type Engine struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewEngine builds Engine.
func NewEngine(repo RepositoryPort, cat CatalogPort, audit AuditPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, catalog: cat, audit: audit, logger: logger}
}

// RecordMovement posts one movement inside its own transaction.
func (e *Engine) RecordMovement(ctx context.Context, input MovementInput) (Movement, *CostInfo, error) {
	var movement Movement
	var cost *CostInfo
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, cost, err = e.RecordMovementTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, nil, err
	}
	e.recordAudit(ctx, input.ActorID, fmt.Sprintf("ledger:%s", input.Type), movement)
	return movement, cost, nil
}

// RecordMovementTx posts one movement inside the caller's transaction.
func (e *Engine) RecordMovementTx(ctx context.Context, tx TxRepository, input MovementInput) (Movement, *CostInfo, error) {
	if !input.Type.Known() {
		return Movement{}, nil, fmt.Errorf("%w: %q", ErrUnknownMovementType, input.Type)
	}
	if !input.Qty.IsPositive() {
		return Movement{}, nil, ErrInvalidQuantity
	}

	loc := input.LocationFrom
	if input.Type.Inbound() {
		loc = input.LocationTo
	}
	if loc == "" {
		return Movement{}, nil, fmt.Errorf("%w: type %s", ErrMissingLocation, input.Type)
	}

	item, err := e.loadOrCreate(ctx, tx, input.Item, loc)
	if err != nil {
		return Movement{}, nil, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	movement := Movement{
		Item:          input.Item,
		Type:          input.Type,
		Qty:           input.Qty,
		UnitMeasure:   item.UnitMeasure,
		LocationFrom:  input.LocationFrom,
		LocationTo:    input.LocationTo,
		BalanceBefore: item.TotalStock,
		ActorID:       input.ActorID,
		RefID:         input.RefID,
		Note:          input.Note,
		Status:        MovementActive,
		OccurredAt:    occurredAt,
	}
	e.snapshotParties(ctx, &movement, input.SupplierID, input.ClientID)

	var cost *CostInfo
	if input.Type.Inbound() {
		if input.UnitCost == nil {
			return Movement{}, nil, fmt.Errorf("%w: type %s", ErrMissingUnitCost, input.Type)
		}
		movement.UnitCost = *input.UnitCost
		movement.LineCost = input.Qty.Mul(*input.UnitCost)
		movement.BalanceAfter = item.TotalStock.Add(input.Qty)

		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return Movement{}, nil, err
		}
		movement.ID = movementID

		batch := Batch{
			ID:         uuid.NewString(),
			Qty:        input.Qty,
			InitialQty: input.Qty,
			UnitCost:   *input.UnitCost,
			EnteredAt:  occurredAt,
			MovementID: movementID,
			SupplierID: input.SupplierID,
			Quality:    input.Quality,
			OrderRef:   input.OrderRef,
		}
		if err := e.appendBatch(ctx, tx, &item, batch); err != nil {
			return Movement{}, nil, err
		}
		item.TotalStock = movement.BalanceAfter
		item.LastPurchasePrice = *input.UnitCost
	} else {
		info, err := e.consumeFIFO(ctx, tx, &item, input.Qty)
		if err != nil {
			return Movement{}, nil, err
		}
		cost = info
		movement.UnitCost = info.UnitCost
		movement.LineCost = info.LineCost
		movement.Breakdown = info.Breakdown
		movement.BalanceAfter = movement.BalanceBefore.Sub(input.Qty)
		item.TotalStock = movement.BalanceAfter

		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return Movement{}, nil, err
		}
		movement.ID = movementID
	}

	recalcSummary(&item)
	if err := tx.UpdateStockItem(ctx, item); err != nil {
		return Movement{}, nil, err
	}
	if err := e.propagateMaxCost(ctx, tx, item.Item); err != nil {
		return Movement{}, nil, err
	}
	return movement, cost, nil
}

// ReverseByReference cancels every active receipt for refID inside its own
// transaction.
func (e *Engine) ReverseByReference(ctx context.Context, refID string, actorID int64) error {
	return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return e.ReverseByReferenceTx(ctx, tx, refID, actorID)
	})
}

// ReverseByReferenceTx cancels every active receipt movement recorded for
// refID. Reversal is only permitted while each reversed lot is still fully
// intact; anything less is fatal and rejected.
func (e *Engine) ReverseByReferenceTx(ctx context.Context, tx TxRepository, refID string, actorID int64) error {
	movements, err := tx.ListActiveMovementsByRef(ctx, refID, MovementReceipt)
	if err != nil {
		return err
	}
	if len(movements) == 0 {
		return fmt.Errorf("%w: %s", ErrNothingToReverse, refID)
	}

	for _, original := range movements {
		item, err := tx.GetStockItemForUpdate(ctx, original.Item, original.LocationTo)
		if err != nil {
			return err
		}

		idx := -1
		for i, b := range item.Batches {
			if b.MovementID == original.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w (movement %d)", ErrBatchConsumed, original.ID)
		}
		batch := item.Batches[idx]
		if batch.Qty.LessThan(original.Qty) {
			return &InsufficientError{
				BatchID:   batch.ID,
				Available: batch.Qty,
				Requested: original.Qty,
				Hint:      "return the sold quantity to stock before cancelling this receipt",
			}
		}

		if err := tx.DeleteBatch(ctx, batch.ID); err != nil {
			return err
		}
		item.Batches = append(item.Batches[:idx], item.Batches[idx+1:]...)

		compensating := Movement{
			Item:          original.Item,
			Type:          MovementReceiptCancel,
			Qty:           original.Qty,
			UnitMeasure:   original.UnitMeasure,
			LocationFrom:  original.LocationTo,
			BalanceBefore: item.TotalStock,
			BalanceAfter:  item.TotalStock.Sub(original.Qty),
			UnitCost:      batch.UnitCost,
			LineCost:      original.Qty.Mul(batch.UnitCost),
			Breakdown: []CostFragment{{
				BatchID:  batch.ID,
				Qty:      original.Qty,
				UnitCost: batch.UnitCost,
				Cost:     original.Qty.Mul(batch.UnitCost),
				Kind:     FragmentReal,
			}},
			ActorID:    actorID,
			RefID:      refID,
			Note:       fmt.Sprintf("reversal of movement %d", original.ID),
			Status:     MovementActive,
			OccurredAt: time.Now().UTC(),
		}
		item.TotalStock = compensating.BalanceAfter

		recalcSummary(&item)
		if err := tx.UpdateStockItem(ctx, item); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, compensating); err != nil {
			return err
		}
		if err := tx.UpdateMovementStatus(ctx, original.ID, MovementCancelled); err != nil {
			return err
		}
		if err := e.propagateMaxCost(ctx, tx, item.Item); err != nil {
			return err
		}
	}
	return nil
}

// Transfer atomically moves part or all of a named lot between locations.
// Traceability survives: the destination lot keeps the original cost, entry
// date, originating movement and quality metadata.
func (e *Engine) Transfer(ctx context.Context, input TransferInput) error {
	if !input.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.BatchID == "" {
		return ErrBatchRequired
	}
	if input.From == "" || input.To == "" {
		return ErrMissingLocation
	}
	if input.From == input.To {
		return ErrSameLocation
	}

	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.GetStockItemForUpdate(ctx, input.Item, input.From)
		if err != nil {
			return err
		}
		idx := -1
		for i, b := range src.Batches {
			if b.ID == input.BatchID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, input.BatchID)
		}
		batch := src.Batches[idx]
		if input.Qty.GreaterThan(batch.Qty) {
			return &InsufficientError{BatchID: batch.ID, Available: batch.Qty, Requested: input.Qty}
		}

		group := uuid.NewString()
		now := time.Now().UTC()

		if input.Qty.Equal(batch.Qty) {
			archived := archiveOf(src, batch)
			archived.Quality.Note = appendNote(archived.Quality.Note, fmt.Sprintf("transferred to %s", input.To))
			if err := tx.InsertArchivedBatch(ctx, archived); err != nil {
				return err
			}
			if err := tx.DeleteBatch(ctx, batch.ID); err != nil {
				return err
			}
			src.Batches = append(src.Batches[:idx], src.Batches[idx+1:]...)
		} else {
			remaining := batch.Qty.Sub(input.Qty)
			if err := tx.UpdateBatchQty(ctx, batch.ID, remaining); err != nil {
				return err
			}
			src.Batches[idx].Qty = remaining
		}

		out := Movement{
			Item:          input.Item,
			Type:          MovementTransferOut,
			Qty:           input.Qty,
			UnitMeasure:   src.UnitMeasure,
			LocationFrom:  input.From,
			LocationTo:    input.To,
			BalanceBefore: src.TotalStock,
			BalanceAfter:  src.TotalStock.Sub(input.Qty),
			UnitCost:      batch.UnitCost,
			LineCost:      input.Qty.Mul(batch.UnitCost),
			Breakdown: []CostFragment{{
				BatchID:  batch.ID,
				Qty:      input.Qty,
				UnitCost: batch.UnitCost,
				Cost:     input.Qty.Mul(batch.UnitCost),
				Kind:     FragmentReal,
			}},
			ActorID:       input.ActorID,
			TransferGroup: group,
			Note:          input.Note,
			Status:        MovementActive,
			OccurredAt:    now,
		}
		src.TotalStock = out.BalanceAfter
		recalcSummary(&src)
		if err := tx.UpdateStockItem(ctx, src); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, out); err != nil {
			return err
		}

		dst, err := e.loadOrCreate(ctx, tx, input.Item, input.To)
		if err != nil {
			return err
		}
		in := Movement{
			Item:          input.Item,
			Type:          MovementTransferIn,
			Qty:           input.Qty,
			UnitMeasure:   dst.UnitMeasure,
			LocationFrom:  input.From,
			LocationTo:    input.To,
			BalanceBefore: dst.TotalStock,
			BalanceAfter:  dst.TotalStock.Add(input.Qty),
			UnitCost:      batch.UnitCost,
			LineCost:      input.Qty.Mul(batch.UnitCost),
			ActorID:       input.ActorID,
			TransferGroup: group,
			Note:          input.Note,
			Status:        MovementActive,
			OccurredAt:    now,
		}
		if _, err := tx.InsertMovement(ctx, in); err != nil {
			return err
		}

		carried := Batch{
			ID:         uuid.NewString(),
			Qty:        input.Qty,
			InitialQty: input.Qty,
			UnitCost:   batch.UnitCost,
			EnteredAt:  batch.EnteredAt,
			MovementID: batch.MovementID,
			SupplierID: batch.SupplierID,
			Quality:    batch.Quality,
			OrderRef:   batch.OrderRef,
		}
		if err := e.appendBatch(ctx, tx, &dst, carried); err != nil {
			return err
		}
		dst.TotalStock = in.BalanceAfter
		recalcSummary(&dst)
		return tx.UpdateStockItem(ctx, dst)
	})
	if err != nil {
		return err
	}
	e.recordAudit(ctx, input.ActorID, "ledger:TRANSFER", Movement{Item: input.Item, Qty: input.Qty, LocationFrom: input.From, LocationTo: input.To})
	return nil
}

// Adjust applies a manual stock correction in either direction.
func (e *Engine) Adjust(ctx context.Context, input AdjustInput) error {
	if !input.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.Location == "" {
		return ErrMissingLocation
	}

	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		switch input.Direction {
		case AdjustDecrease:
			return e.adjustDecreaseTx(ctx, tx, input)
		case AdjustIncrease:
			return e.adjustIncreaseTx(ctx, tx, input)
		default:
			return fmt.Errorf("ledger: unknown adjustment direction %q", input.Direction)
		}
	})
	if err != nil {
		return err
	}
	e.recordAudit(ctx, input.ActorID, fmt.Sprintf("ledger:ADJUST_%s", input.Direction), Movement{Item: input.Item, Qty: input.Qty, LocationFrom: input.Location})
	return nil
}

func (e *Engine) adjustDecreaseTx(ctx context.Context, tx TxRepository, input AdjustInput) error {
	if input.BatchID == "" {
		return fmt.Errorf("%w: decrease adjustments consume a specific lot", ErrBatchRequired)
	}
	item, err := tx.GetStockItemForUpdate(ctx, input.Item, input.Location)
	if err != nil {
		return err
	}
	idx := -1
	for i, b := range item.Batches {
		if b.ID == input.BatchID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, input.BatchID)
	}
	batch := item.Batches[idx]
	if input.Qty.GreaterThan(batch.Qty) {
		return &InsufficientError{BatchID: batch.ID, Available: batch.Qty, Requested: input.Qty}
	}

	if input.Qty.Equal(batch.Qty) {
		if err := tx.InsertArchivedBatch(ctx, archiveOf(item, batch)); err != nil {
			return err
		}
		if err := tx.DeleteBatch(ctx, batch.ID); err != nil {
			return err
		}
		item.Batches = append(item.Batches[:idx], item.Batches[idx+1:]...)
	} else {
		remaining := batch.Qty.Sub(input.Qty)
		if err := tx.UpdateBatchQty(ctx, batch.ID, remaining); err != nil {
			return err
		}
		item.Batches[idx].Qty = remaining
	}

	movement := Movement{
		Item:          input.Item,
		Type:          MovementInventoryMinus,
		Qty:           input.Qty,
		UnitMeasure:   item.UnitMeasure,
		LocationFrom:  input.Location,
		BalanceBefore: item.TotalStock,
		BalanceAfter:  item.TotalStock.Sub(input.Qty),
		UnitCost:      batch.UnitCost,
		LineCost:      input.Qty.Mul(batch.UnitCost),
		Breakdown: []CostFragment{{
			BatchID:  batch.ID,
			Qty:      input.Qty,
			UnitCost: batch.UnitCost,
			Cost:     input.Qty.Mul(batch.UnitCost),
			Kind:     FragmentReal,
		}},
		ActorID:    input.ActorID,
		Note:       input.Reason,
		Status:     MovementActive,
		OccurredAt: time.Now().UTC(),
	}
	item.TotalStock = movement.BalanceAfter
	recalcSummary(&item)
	if err := tx.UpdateStockItem(ctx, item); err != nil {
		return err
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return err
	}
	return e.propagateMaxCost(ctx, tx, item.Item)
}

func (e *Engine) adjustIncreaseTx(ctx context.Context, tx TxRepository, input AdjustInput) error {
	item, err := e.loadOrCreate(ctx, tx, input.Item, input.Location)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	movement := Movement{
		Item:          input.Item,
		Type:          MovementInventoryPlus,
		Qty:           input.Qty,
		UnitMeasure:   item.UnitMeasure,
		LocationTo:    input.Location,
		BalanceBefore: item.TotalStock,
		BalanceAfter:  item.TotalStock.Add(input.Qty),
		ActorID:       input.ActorID,
		Note:          input.Reason,
		Status:        MovementActive,
		OccurredAt:    now,
	}

	if input.BatchID != "" {
		// Miscount correction: the lot grows back at its original cost.
		idx := -1
		for i, b := range item.Batches {
			if b.ID == input.BatchID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, input.BatchID)
		}
		batch := item.Batches[idx]
		newQty := batch.Qty.Add(input.Qty)
		if err := tx.UpdateBatchQty(ctx, batch.ID, newQty); err != nil {
			return err
		}
		item.Batches[idx].Qty = newQty
		movement.UnitCost = batch.UnitCost
		movement.LineCost = input.Qty.Mul(batch.UnitCost)
		if _, err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
	} else {
		cost := item.LastPurchasePrice
		if input.UnitCost != nil {
			cost = *input.UnitCost
		}
		movement.UnitCost = cost
		movement.LineCost = input.Qty.Mul(cost)
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		batch := Batch{
			ID:         uuid.NewString(),
			Qty:        input.Qty,
			InitialQty: input.Qty,
			UnitCost:   cost,
			EnteredAt:  now,
			MovementID: movementID,
			Quality:    QualityMeta{Note: input.Reason},
		}
		if err := e.appendBatch(ctx, tx, &item, batch); err != nil {
			return err
		}
	}

	item.TotalStock = movement.BalanceAfter
	recalcSummary(&item)
	if err := tx.UpdateStockItem(ctx, item); err != nil {
		return err
	}
	return e.propagateMaxCost(ctx, tx, item.Item)
}

// consumeFIFO walks the lot book oldest-first, shrinking or archiving lots
// until qty is covered. A shortfall is charged at the last purchase price as
// a PROVISIONAL fragment; the stock total is allowed to go negative so
// urgent shipments are never blocked.
func (e *Engine) consumeFIFO(ctx context.Context, tx TxRepository, item *StockItem, qty decimal.Decimal) (*CostInfo, error) {
	remaining := qty
	lineCost := decimal.Zero
	var fragments []CostFragment

	kept := item.Batches[:0]
	for _, batch := range item.Batches {
		if !remaining.IsPositive() {
			kept = append(kept, batch)
			continue
		}
		consume := decimal.Min(batch.Qty, remaining)
		cost := consume.Mul(batch.UnitCost)
		fragments = append(fragments, CostFragment{
			BatchID:  batch.ID,
			Qty:      consume,
			UnitCost: batch.UnitCost,
			Cost:     cost,
			Kind:     FragmentReal,
		})
		lineCost = lineCost.Add(cost)
		remaining = remaining.Sub(consume)

		if consume.Equal(batch.Qty) {
			if err := tx.InsertArchivedBatch(ctx, archiveOf(*item, batch)); err != nil {
				return nil, err
			}
			if err := tx.DeleteBatch(ctx, batch.ID); err != nil {
				return nil, err
			}
			continue
		}
		batch.Qty = batch.Qty.Sub(consume)
		if err := tx.UpdateBatchQty(ctx, batch.ID, batch.Qty); err != nil {
			return nil, err
		}
		kept = append(kept, batch)
	}
	item.Batches = kept

	if remaining.IsPositive() {
		price := item.LastPurchasePrice
		cost := remaining.Mul(price)
		fragments = append(fragments, CostFragment{
			Qty:      remaining,
			UnitCost: price,
			Cost:     cost,
			Kind:     FragmentProvisional,
		})
		lineCost = lineCost.Add(cost)
		e.logger.Warn("stock insufficiency, charging provisional cost",
			slog.String("item_type", string(item.Item.Type)),
			slog.Int64("item_id", item.Item.ID),
			slog.String("location", string(item.Location)),
			slog.String("shortfall", remaining.String()))
	}

	return &CostInfo{
		UnitCost:  lineCost.Div(qty),
		LineCost:  lineCost,
		Breakdown: fragments,
	}, nil
}

// appendBatch inserts a new lot, first netting it against any backorder so
// the lot book and the signed total stay in agreement. The absorbed part
// repays consumption that was already costed, so it goes straight to the
// archive instead of entering the open book.
func (e *Engine) appendBatch(ctx context.Context, tx TxRepository, item *StockItem, batch Batch) error {
	if item.TotalStock.IsNegative() {
		deficit := item.TotalStock.Neg()
		absorbed := decimal.Min(deficit, batch.Qty)
		batch.Qty = batch.Qty.Sub(absorbed)
		ab := archiveOf(*item, batch)
		ab.Qty = absorbed
		if err := tx.InsertArchivedBatch(ctx, ab); err != nil {
			return err
		}
		if batch.Qty.IsZero() {
			return nil
		}
		batch.InitialQty = batch.Qty
	}
	if err := tx.InsertBatch(ctx, item.ID, batch); err != nil {
		return err
	}
	item.Batches = append(item.Batches, batch)
	return nil
}

func (e *Engine) loadOrCreate(ctx context.Context, tx TxRepository, ref ItemRef, loc Location) (StockItem, error) {
	item, err := tx.GetStockItemForUpdate(ctx, ref, loc)
	if err == nil {
		e.refreshCachedFields(ctx, &item)
		return item, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return StockItem{}, err
	}

	item = StockItem{Item: ref, Location: loc}
	e.refreshCachedFields(ctx, &item)
	id, err := tx.CreateStockItem(ctx, item)
	if err != nil {
		return StockItem{}, err
	}
	item.ID = id
	return item, nil
}

// refreshCachedFields re-copies display fields from the catalog. The cache
// is a read optimisation; a failed lookup is logged and tolerated.
func (e *Engine) refreshCachedFields(ctx context.Context, item *StockItem) {
	if e.catalog == nil {
		return
	}
	stockable, err := e.catalog.Get(ctx, item.Item.Type, item.Item.ID)
	if err != nil {
		e.logger.Warn("refresh cached item fields failed",
			slog.String("item_type", string(item.Item.Type)),
			slog.Int64("item_id", item.Item.ID),
			slog.Any("error", err))
		return
	}
	item.SearchName = stockable.DisplayName()
	item.SearchCode = stockable.DisplayCode()
	item.UnitMeasure = stockable.BaseUnit()
}

// propagateMaxCost pushes the highest open-lot cost across all locations to
// the item's master record. Runs inside the same transaction but is a
// logically separate reconciliation step; the nightly job repairs drift if
// this ever moves to an asynchronous path.
func (e *Engine) propagateMaxCost(ctx context.Context, tx TxRepository, item ItemRef) error {
	max, err := tx.GlobalMaxUnitCost(ctx, item)
	if err != nil {
		return err
	}
	return tx.SetCatalogMaxPrice(ctx, item, max)
}

func (e *Engine) snapshotParties(ctx context.Context, movement *Movement, supplierID, clientID *int64) {
	if e.catalog == nil {
		return
	}
	if supplierID != nil {
		if name, err := e.catalog.SupplierName(ctx, *supplierID); err == nil {
			movement.SupplierName = name
		}
	}
	if clientID != nil {
		if name, err := e.catalog.ClientName(ctx, *clientID); err == nil {
			movement.ClientName = name
		}
	}
}

func (e *Engine) recordAudit(ctx context.Context, actorID int64, action string, m Movement) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%s:%d", m.Item.Type, m.Item.ID),
		Meta: map[string]any{
			"qty":           m.Qty.String(),
			"location_from": string(m.LocationFrom),
			"location_to":   string(m.LocationTo),
		},
	})
}

func archiveOf(item StockItem, batch Batch) ArchivedBatch {
	return ArchivedBatch{
		BatchID:     batch.ID,
		StockItemID: item.ID,
		Item:        item.Item,
		Location:    item.Location,
		Qty:         batch.InitialQty,
		UnitCost:    batch.UnitCost,
		EnteredAt:   batch.EnteredAt,
		MovementID:  batch.MovementID,
		SupplierID:  batch.SupplierID,
		Quality:     batch.Quality,
		ArchivedAt:  time.Now().UTC(),
	}
}

func appendNote(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "; " + extra
}
