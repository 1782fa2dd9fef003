package reservation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/ledger"
)

type memoryStock struct {
	id       int64
	total    decimal.Decimal
	reserved decimal.Decimal
}

// memoryRepo is an in-memory TxRepository for cascade scenarios.
type memoryRepo struct {
	nextStockID int64
	nextResID   int64
	stock       map[string]*memoryStock
	byID        map[int64]*memoryStock
	rows        map[int64]*Reservation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock: make(map[string]*memoryStock),
		byID:  make(map[int64]*memoryStock),
		rows:  make(map[int64]*Reservation),
	}
}

func stockKey(item ledger.ItemRef, loc ledger.Location) string {
	return fmt.Sprintf("%s:%d:%s", item.Type, item.ID, loc)
}

func (m *memoryRepo) seed(item ledger.ItemRef, loc ledger.Location, total string) {
	m.nextStockID++
	s := &memoryStock{id: m.nextStockID, total: decimal.RequireFromString(total)}
	m.stock[stockKey(item, loc)] = s
	m.byID[s.id] = s
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) AvailabilityForUpdate(_ context.Context, item ledger.ItemRef, loc ledger.Location) (Availability, error) {
	s, ok := m.stock[stockKey(item, loc)]
	if !ok {
		return Availability{}, ledger.ErrItemNotFound
	}
	return Availability{StockItemID: s.id, TotalStock: s.total, Reserved: s.reserved}, nil
}

func (m *memoryRepo) EnsureStockItem(_ context.Context, item ledger.ItemRef, loc ledger.Location) (int64, error) {
	if s, ok := m.stock[stockKey(item, loc)]; ok {
		return s.id, nil
	}
	m.nextStockID++
	s := &memoryStock{id: m.nextStockID}
	m.stock[stockKey(item, loc)] = s
	m.byID[s.id] = s
	return s.id, nil
}

func (m *memoryRepo) AddReserved(_ context.Context, stockItemID int64, delta decimal.Decimal) error {
	s, ok := m.byID[stockItemID]
	if !ok {
		return fmt.Errorf("stock item %d not stored", stockItemID)
	}
	s.reserved = s.reserved.Add(delta)
	return nil
}

func (m *memoryRepo) InsertReservation(_ context.Context, r Reservation) (int64, error) {
	m.nextResID++
	r.ID = m.nextResID
	m.rows[r.ID] = &r
	return r.ID, nil
}

func (m *memoryRepo) ListActiveByOrder(_ context.Context, orderID int64, lineIDs []int64) ([]Reservation, error) {
	var out []Reservation
	for id := int64(1); id <= m.nextResID; id++ {
		r, ok := m.rows[id]
		if !ok || r.OrderID != orderID || r.Status != StatusActive {
			continue
		}
		if len(lineIDs) > 0 {
			match := false
			for _, lineID := range lineIDs {
				if r.LineID == lineID {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memoryRepo) UpdateReservationStatus(_ context.Context, id int64, status Status) error {
	r, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("reservation %d not stored", id)
	}
	r.Status = status
	return nil
}

func (m *memoryRepo) reservedAt(item ledger.ItemRef, loc ledger.Location) string {
	s, ok := m.stock[stockKey(item, loc)]
	if !ok {
		return "<absent>"
	}
	return s.reserved.String()
}

var flour = ledger.ItemRef{Type: catalog.ItemTypeProduct, ID: 7}

func newTestService(repo *memoryRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, nil, logger)
}

func TestReserveCascadesAcrossLocations(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.ClientCustody(41), "50")
	repo.seed(flour, ledger.LocationWarehouse, "40")
	repo.seed(flour, ledger.LocationSupplierCustody, "30")
	svc := newTestService(repo)

	out, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("120")},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.Equal(t, ledger.ClientCustody(41), out[0].Location)
	require.Equal(t, "50", out[0].Qty.String())
	require.Equal(t, ledger.LocationWarehouse, out[1].Location)
	require.Equal(t, "40", out[1].Qty.String())
	require.Equal(t, ledger.LocationSupplierCustody, out[2].Location)
	require.Equal(t, "30", out[2].Qty.String())
	for _, r := range out {
		require.False(t, r.Backorder)
		require.Equal(t, StatusActive, r.Status)
	}

	require.Equal(t, "50", repo.reservedAt(flour, ledger.ClientCustody(41)))
	require.Equal(t, "40", repo.reservedAt(flour, ledger.LocationWarehouse))
	require.Equal(t, "30", repo.reservedAt(flour, ledger.LocationSupplierCustody))
}

func TestReserveShortfallBecomesBackorder(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.LocationWarehouse, "40")
	svc := newTestService(repo)

	out, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("70")},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "40", out[0].Qty.String())
	require.False(t, out[0].Backorder)
	require.Equal(t, ledger.LocationWarehouse, out[1].Location)
	require.Equal(t, "30", out[1].Qty.String())
	require.True(t, out[1].Backorder)

	// Free availability is now negative on the primary location.
	require.Equal(t, "70", repo.reservedAt(flour, ledger.LocationWarehouse))
}

func TestReserveUnknownItemBackordersOnPrimary(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	out, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("25")},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Backorder)
	require.Equal(t, ledger.LocationWarehouse, out[0].Location)

	// The stock item was lazily created at zero stock.
	require.Equal(t, "25", repo.reservedAt(flour, ledger.LocationWarehouse))
}

func TestReserveRejectsNonPositiveLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.Zero},
	})
	require.ErrorIs(t, err, ErrInvalidLine)
}

func TestUnreserveReleasesEveryLocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.ClientCustody(41), "50")
	repo.seed(flour, ledger.LocationWarehouse, "40")
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("60")},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Unreserve(context.Background(), 100))
	require.Equal(t, "0", repo.reservedAt(flour, ledger.ClientCustody(41)))
	require.Equal(t, "0", repo.reservedAt(flour, ledger.LocationWarehouse))
	for _, r := range repo.rows {
		require.Equal(t, StatusCancelled, r.Status)
	}

	require.ErrorIs(t, svc.Unreserve(context.Background(), 100), ErrNothingReserved)
}

func TestUnreserveTxJoinsCallerTransaction(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.LocationWarehouse, "40")
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("10")},
	})
	require.NoError(t, err)

	// An order cancellation releases its holds inside a transaction it
	// already owns.
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return svc.UnreserveTx(ctx, tx, 100)
	})
	require.NoError(t, err)
	require.Equal(t, "0", repo.reservedAt(flour, ledger.LocationWarehouse))
	for _, r := range repo.rows {
		require.Equal(t, StatusCancelled, r.Status)
	}
}

func TestFulfillMarksFragmentsAndReleases(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.LocationWarehouse, "40")
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), 100, 41, []Line{
		{LineID: 1, Item: flour, Qty: decimal.RequireFromString("10")},
		{LineID: 2, Item: flour, Qty: decimal.RequireFromString("5")},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Fulfill(context.Background(), 100, 1))
	require.Equal(t, "5", repo.reservedAt(flour, ledger.LocationWarehouse))

	statuses := map[int64]Status{}
	for id, r := range repo.rows {
		statuses[id] = r.Status
	}
	require.Equal(t, StatusFulfilled, statuses[1])
	require.Equal(t, StatusActive, statuses[2])
}
