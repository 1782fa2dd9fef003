package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// recalcSummary recomputes the derived summary fields of item from its batch
// list. It is idempotent and must run after every batch mutation.
//
// Negative TotalStock is deliberately left alone: it is the backorder signal
// and is only moved back toward zero by the inbound path, never zeroed here.
func recalcSummary(item *StockItem) {
	sort.SliceStable(item.Batches, func(i, j int) bool {
		if item.Batches[i].EnteredAt.Equal(item.Batches[j].EnteredAt) {
			return item.Batches[i].ID < item.Batches[j].ID
		}
		return item.Batches[i].EnteredAt.Before(item.Batches[j].EnteredAt)
	})

	sum := decimal.Zero
	for _, b := range item.Batches {
		sum = sum.Add(b.Qty)
	}

	switch {
	case sum.IsPositive():
		item.TotalStock = sum
	case sum.IsZero() && item.TotalStock.IsPositive():
		// Drift between the lot book and the cached total self-heals here.
		item.TotalStock = decimal.Zero
	}

	if item.TotalStock.IsPositive() && len(item.Batches) > 0 {
		var totalCost decimal.Decimal
		min := item.Batches[0].UnitCost
		max := item.Batches[0].UnitCost
		for _, b := range item.Batches {
			totalCost = totalCost.Add(b.Qty.Mul(b.UnitCost))
			if b.UnitCost.LessThan(min) {
				min = b.UnitCost
			}
			if b.UnitCost.GreaterThan(max) {
				max = b.UnitCost
			}
		}
		item.AverageCost = totalCost.Div(sum)
		item.MinPurchasePrice = min
		item.MaxPurchasePrice = max
		item.LastPurchasePrice = item.Batches[len(item.Batches)-1].UnitCost
		return
	}

	// At or below zero the open-lot statistics are meaningless. The last
	// purchase price survives so future provisional consumption can be
	// costed.
	item.AverageCost = decimal.Zero
	item.MinPurchasePrice = decimal.Zero
	item.MaxPurchasePrice = decimal.Zero
}
