package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// DefaultPriority is the fallback cascade order after client custody.
var DefaultPriority = []ledger.Location{ledger.LocationWarehouse, ledger.LocationSupplierCustody}

// Service reserves stock for order lines across locations. Demand is drawn
// from the client's custody location first, then down the configured
// priority list; any final shortfall becomes a backorder held against the
// primary location so the order is never rejected for lack of stock.
type Service struct {
	repo     RepositoryPort
	priority []ledger.Location
	logger   *slog.Logger
}

// NewService builds Service. An empty priority list falls back to
// DefaultPriority.
func NewService(repo RepositoryPort, priority []ledger.Location, logger *slog.Logger) *Service {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, priority: priority, logger: logger}
}

// Reserve holds stock for every line of an order inside one transaction.
func (s *Service) Reserve(ctx context.Context, orderID, clientID int64, lines []Line) ([]Reservation, error) {
	var out []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = s.ReserveTx(ctx, tx, orderID, clientID, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveTx holds stock for every line inside the caller's transaction.
func (s *Service) ReserveTx(ctx context.Context, tx TxRepository, orderID, clientID int64, lines []Line) ([]Reservation, error) {
	cascade := append([]ledger.Location{ledger.ClientCustody(clientID)}, s.priority...)

	var out []Reservation
	for _, line := range lines {
		if !line.Qty.IsPositive() {
			return nil, fmt.Errorf("%w: line %d", ErrInvalidLine, line.LineID)
		}
		remaining := line.Qty

		for _, loc := range cascade {
			if !remaining.IsPositive() {
				break
			}
			avail, err := tx.AvailabilityForUpdate(ctx, line.Item, loc)
			if err != nil {
				if errors.Is(err, ledger.ErrItemNotFound) {
					continue
				}
				return nil, err
			}
			free := avail.Free()
			if !free.IsPositive() {
				continue
			}
			take := decimal.Min(free, remaining)
			fragment, err := s.hold(ctx, tx, avail.StockItemID, orderID, line, loc, take, false)
			if err != nil {
				return nil, err
			}
			out = append(out, fragment)
			remaining = remaining.Sub(take)
		}

		if remaining.IsPositive() {
			// Backorder: held against the primary location, which is lazily
			// created at zero stock when the item never entered it.
			primary := s.priority[0]
			stockItemID, err := tx.EnsureStockItem(ctx, line.Item, primary)
			if err != nil {
				return nil, err
			}
			fragment, err := s.hold(ctx, tx, stockItemID, orderID, line, primary, remaining, true)
			if err != nil {
				return nil, err
			}
			out = append(out, fragment)
			s.logger.Warn("reservation backorder",
				slog.Int64("order_id", orderID),
				slog.Int64("line_id", line.LineID),
				slog.String("shortfall", remaining.String()))
		}
	}
	return out, nil
}

func (s *Service) hold(ctx context.Context, tx TxRepository, stockItemID, orderID int64, line Line, loc ledger.Location, qty decimal.Decimal, backorder bool) (Reservation, error) {
	if err := tx.AddReserved(ctx, stockItemID, qty); err != nil {
		return Reservation{}, err
	}
	r := Reservation{
		OrderID:   orderID,
		LineID:    line.LineID,
		Item:      line.Item,
		Location:  loc,
		Qty:       qty,
		Backorder: backorder,
		Status:    StatusActive,
	}
	id, err := tx.InsertReservation(ctx, r)
	if err != nil {
		return Reservation{}, err
	}
	r.ID = id
	return r, nil
}

// Unreserve cancels the active reservations of an order, releasing the held
// quantity at every recorded location. With lineIDs it cancels only those
// lines.
func (s *Service) Unreserve(ctx context.Context, orderID int64, lineIDs ...int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.UnreserveTx(ctx, tx, orderID, lineIDs...)
	})
}

// UnreserveTx is Unreserve inside the caller's transaction, so an order
// cancellation can release its holds atomically with the rest of its writes.
func (s *Service) UnreserveTx(ctx context.Context, tx TxRepository, orderID int64, lineIDs ...int64) error {
	return s.release(ctx, tx, orderID, lineIDs, StatusCancelled)
}

// Fulfill marks an order's active reservations as consumed by delivery and
// releases the held quantity. With lineIDs it fulfills only those lines.
func (s *Service) Fulfill(ctx context.Context, orderID int64, lineIDs ...int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.release(ctx, tx, orderID, lineIDs, StatusFulfilled)
	})
}

// FulfillTx is Fulfill inside the caller's transaction.
func (s *Service) FulfillTx(ctx context.Context, tx TxRepository, orderID int64, lineIDs ...int64) error {
	return s.release(ctx, tx, orderID, lineIDs, StatusFulfilled)
}

func (s *Service) release(ctx context.Context, tx TxRepository, orderID int64, lineIDs []int64, final Status) error {
	active, err := tx.ListActiveByOrder(ctx, orderID, lineIDs)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return fmt.Errorf("%w: order %d", ErrNothingReserved, orderID)
	}
	for _, r := range active {
		avail, err := tx.AvailabilityForUpdate(ctx, r.Item, r.Location)
		if err != nil {
			return err
		}
		if err := tx.AddReserved(ctx, avail.StockItemID, r.Qty.Neg()); err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, final); err != nil {
			return err
		}
	}
	return nil
}
