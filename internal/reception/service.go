package reception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/platform/db"
)

// txAttempts bounds the serialization-failure retry loop.
const txAttempts = 3

// TxRunner executes a ledger unit of work atomically, retrying transient
// conflicts. Retrying lives here, at the orchestration edge; the engine
// itself never retries.
type TxRunner interface {
	RunWithRetry(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
}

// PoolRunner is the production TxRunner over a pgx pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// RunWithRetry implements TxRunner with a bounded retry on serialization
// failures and deadlocks.
func (r PoolRunner) RunWithRetry(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return db.WithTxRetry(ctx, r.Pool, txAttempts, func(tx pgx.Tx) error {
		return fn(ctx, ledger.Bind(tx))
	})
}

// EnginePort is the slice of the ledger engine the orchestrator drives.
type EnginePort interface {
	RecordMovementTx(ctx context.Context, tx ledger.TxRepository, input ledger.MovementInput) (ledger.Movement, *ledger.CostInfo, error)
	ReverseByReferenceTx(ctx context.Context, tx ledger.TxRepository, refID string, actorID int64) error
}

// IdempotencyPort guards confirm and cancel against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

var (
	// ErrMissingRef indicates a reception without a reference id.
	ErrMissingRef = errors.New("reception: reference id required")
	// ErrNoLines indicates a reception without receipt lines.
	ErrNoLines = errors.New("reception: at least one line required")
)

// Line is one received lot of one item.
type Line struct {
	Item     ledger.ItemRef
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	Quality  ledger.QualityMeta
	OrderRef string
}

// ConfirmInput is a validated goods-receipt confirmation.
type ConfirmInput struct {
	RefID      string
	SupplierID *int64
	Location   ledger.Location
	OccurredAt time.Time
	ActorID    int64
	Lines      []Line
}

// Service turns a confirmed goods receipt into ledger movements: one
// RECEIPT per line, all inside a single transaction so a failing line
// voids the whole document.
type Service struct {
	runner TxRunner
	engine EnginePort
	idem   IdempotencyPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(runner TxRunner, engine EnginePort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, engine: engine, idem: idem, logger: logger}
}

// Confirm posts the receipt lines. A repeated call with the same reference
// returns shared.ErrIdempotencyConflict without touching stock.
func (s *Service) Confirm(ctx context.Context, input ConfirmInput) ([]ledger.Movement, error) {
	if input.RefID == "" {
		return nil, ErrMissingRef
	}
	if len(input.Lines) == 0 {
		return nil, ErrNoLines
	}
	location := input.Location
	if location == "" {
		location = ledger.LocationWarehouse
	}

	key := fmt.Sprintf("reception:confirm:%s", input.RefID)
	if err := s.idem.CheckAndInsert(ctx, key, "reception"); err != nil {
		return nil, err
	}

	var movements []ledger.Movement
	err := s.runner.RunWithRetry(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		movements = movements[:0]
		for _, line := range input.Lines {
			unitCost := line.UnitCost
			mv, _, err := s.engine.RecordMovementTx(ctx, tx, ledger.MovementInput{
				Item:       line.Item,
				Type:       ledger.MovementReceipt,
				Qty:        line.Qty,
				LocationTo: location,
				UnitCost:   &unitCost,
				SupplierID: input.SupplierID,
				Quality:    line.Quality,
				RefID:      input.RefID,
				OrderRef:   line.OrderRef,
				ActorID:    input.ActorID,
				OccurredAt: input.OccurredAt,
			})
			if err != nil {
				return err
			}
			movements = append(movements, mv)
		}
		return nil
	})
	if err != nil {
		// Free the key so a corrected document can be resubmitted.
		if delErr := s.idem.Delete(ctx, key); delErr != nil {
			s.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	s.logger.Info("reception confirmed",
		slog.String("ref_id", input.RefID),
		slog.Int("lines", len(input.Lines)))
	return movements, nil
}

// Cancel reverses every receipt posted under refID. It refuses when any
// received lot has been partially consumed.
func (s *Service) Cancel(ctx context.Context, refID string, actorID int64) error {
	if refID == "" {
		return ErrMissingRef
	}

	key := fmt.Sprintf("reception:cancel:%s", refID)
	if err := s.idem.CheckAndInsert(ctx, key, "reception"); err != nil {
		return err
	}

	err := s.runner.RunWithRetry(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return s.engine.ReverseByReferenceTx(ctx, tx, refID, actorID)
	})
	if err != nil {
		if delErr := s.idem.Delete(ctx, key); delErr != nil {
			s.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
		return err
	}

	s.logger.Info("reception cancelled", slog.String("ref_id", refID))
	return nil
}
