package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/internal/repository/memory"
	"github.com/shestoi/backoffice/internal/service"
)

type fixture struct {
	repo         *memory.MemoryRepository
	ledger       *service.InventoryLedger
	reservations *service.ReservationManager
	quotes       *service.QuoteService
	invoices     *service.InvoiceService
}

// newFixture собирает сервисы поверх in-memory репозитория; tx позволяет подменить TxManager
func newFixture(t *testing.T, wrap func(repository.TxManager) repository.TxManager) *fixture {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewMemoryRepository()

	var tx repository.TxManager = repo
	if wrap != nil {
		tx = wrap(repo)
	}

	ledger := service.NewInventoryLedger(logger, tx, nil, nil)
	reservations := service.NewReservationManager(logger, tx, ledger, nil)
	return &fixture{
		repo:         repo,
		ledger:       ledger,
		reservations: reservations,
		quotes:       service.NewQuoteService(logger, tx, ledger, reservations, nil),
		invoices:     service.NewInvoiceService(logger, tx, nil),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}

func strPtr(s string) *string {
	return &s
}

func (f *fixture) stockItem(t *testing.T, sku, onHand string) repository.StockItem {
	t.Helper()
	item, err := f.ledger.CreateStockItem(context.Background(), service.CreateStockItemInput{
		SKU:            sku,
		Name:           "Item " + sku,
		Unit:           "pcs",
		QuantityOnHand: dec(onHand),
		MinimumStock:   dec("1"),
		UnitSalePrice:  dec("10"),
		UnitCostPrice:  dec("6"),
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) reserved(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	item, err := f.ledger.GetStockItem(context.Background(), id)
	require.NoError(t, err)
	return item.QuantityReserved
}

// requireInvariant проверяет, что агрегат совпадает с суммой активных резервов
func (f *fixture) requireInvariant(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		report, err := f.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, report.Consistent(), "stock item %s drift %s", id, report.Drift.String())
	}
}

// failingTx подменяет Store так, что N-й CreateReservation в транзакции падает
type failingTx struct {
	inner  repository.TxManager
	failOn int
}

func (f failingTx) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		return fn(ctx, &failingStore{Store: store, failOn: f.failOn})
	})
}

func (f failingTx) View(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	return f.inner.View(ctx, fn)
}

var errDiskFull = errors.New("disk full")

type failingStore struct {
	repository.Store
	failOn int
	calls  int
}

func (s *failingStore) CreateReservation(ctx context.Context, r repository.Reservation) error {
	s.calls++
	if s.calls == s.failOn {
		return errDiskFull
	}
	return s.Store.CreateReservation(ctx, r)
}
