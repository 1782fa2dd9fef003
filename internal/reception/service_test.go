package reception

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/shared"
)

type fakeRunner struct {
	runs int
}

func (r *fakeRunner) RunWithRetry(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	r.runs++
	return fn(ctx, nil)
}

type fakeEngine struct {
	nextID     int64
	recorded   []ledger.MovementInput
	reversed   []string
	recordErr  error
	reverseErr error
}

func (e *fakeEngine) RecordMovementTx(_ context.Context, _ ledger.TxRepository, input ledger.MovementInput) (ledger.Movement, *ledger.CostInfo, error) {
	if e.recordErr != nil {
		return ledger.Movement{}, nil, e.recordErr
	}
	e.nextID++
	e.recorded = append(e.recorded, input)
	return ledger.Movement{ID: e.nextID, Item: input.Item, Type: input.Type, Qty: input.Qty}, nil, nil
}

func (e *fakeEngine) ReverseByReferenceTx(_ context.Context, _ ledger.TxRepository, refID string, _ int64) error {
	if e.reverseErr != nil {
		return e.reverseErr
	}
	e.reversed = append(e.reversed, refID)
	return nil
}

type fakeIdem struct {
	keys map[string]bool
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{keys: make(map[string]bool)}
}

func (i *fakeIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	if i.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	i.keys[key] = true
	return nil
}

func (i *fakeIdem) Delete(_ context.Context, key string) error {
	delete(i.keys, key)
	return nil
}

var flour = ledger.ItemRef{Type: catalog.ItemTypeProduct, ID: 7}

func newTestService() (*Service, *fakeRunner, *fakeEngine, *fakeIdem) {
	runner := &fakeRunner{}
	engine := &fakeEngine{}
	idem := newFakeIdem()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(runner, engine, idem, logger), runner, engine, idem
}

func confirmInput() ConfirmInput {
	supplier := int64(3)
	return ConfirmInput{
		RefID:      "GR-77",
		SupplierID: &supplier,
		ActorID:    1,
		Lines: []Line{
			{Item: flour, Qty: decimal.RequireFromString("100"), UnitCost: decimal.RequireFromString("10"), OrderRef: "PO-5"},
			{Item: flour, Qty: decimal.RequireFromString("50"), UnitCost: decimal.RequireFromString("11")},
		},
	}
}

func TestConfirmPostsOneReceiptPerLine(t *testing.T) {
	svc, runner, engine, _ := newTestService()

	movements, err := svc.Confirm(context.Background(), confirmInput())
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, 1, runner.runs)

	require.Len(t, engine.recorded, 2)
	for _, input := range engine.recorded {
		require.Equal(t, ledger.MovementReceipt, input.Type)
		require.Equal(t, "GR-77", input.RefID)
		require.Equal(t, ledger.LocationWarehouse, input.LocationTo)
		require.NotNil(t, input.SupplierID)
	}
	require.Equal(t, "10", engine.recorded[0].UnitCost.String())
	require.Equal(t, "11", engine.recorded[1].UnitCost.String())
}

func TestConfirmIsIdempotent(t *testing.T) {
	svc, runner, _, _ := newTestService()

	_, err := svc.Confirm(context.Background(), confirmInput())
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), confirmInput())
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 1, runner.runs)
}

func TestConfirmReleasesKeyOnFailure(t *testing.T) {
	svc, _, engine, idem := newTestService()
	engine.recordErr = errors.New("boom")

	_, err := svc.Confirm(context.Background(), confirmInput())
	require.Error(t, err)
	require.Empty(t, idem.keys)

	// A corrected resubmission goes through.
	engine.recordErr = nil
	_, err = svc.Confirm(context.Background(), confirmInput())
	require.NoError(t, err)
}

func TestConfirmValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	input := confirmInput()
	input.RefID = ""
	_, err := svc.Confirm(context.Background(), input)
	require.ErrorIs(t, err, ErrMissingRef)

	input = confirmInput()
	input.Lines = nil
	_, err = svc.Confirm(context.Background(), input)
	require.ErrorIs(t, err, ErrNoLines)
}

func TestCancelReversesByReference(t *testing.T) {
	svc, _, engine, _ := newTestService()

	require.NoError(t, svc.Cancel(context.Background(), "GR-77", 2))
	require.Equal(t, []string{"GR-77"}, engine.reversed)

	require.ErrorIs(t, svc.Cancel(context.Background(), "GR-77", 2), shared.ErrIdempotencyConflict)
}

func TestCancelReleasesKeyWhenBlocked(t *testing.T) {
	svc, _, engine, idem := newTestService()
	engine.reverseErr = ledger.ErrBatchConsumed

	require.ErrorIs(t, svc.Cancel(context.Background(), "GR-77", 2), ledger.ErrBatchConsumed)
	require.Empty(t, idem.keys)
}
