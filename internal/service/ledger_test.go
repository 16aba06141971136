package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/authctx"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/internal/repository/memory"
	"github.com/shestoi/backoffice/internal/service"
	"github.com/shestoi/backoffice/internal/service/mocks"
)

func TestInventoryLedger_CreateStockItem(t *testing.T) {
	ctx := context.Background()

	valid := service.CreateStockItemInput{
		SKU:            "TILE-01",
		Name:           "Ceramic tile",
		Unit:           "m2",
		QuantityOnHand: dec("12.5"),
		MinimumStock:   dec("5"),
		UnitSalePrice:  dec("19.90"),
		UnitCostPrice:  dec("11.20"),
	}

	tests := []struct {
		name          string
		mutate        func(in *service.CreateStockItemInput)
		expectedError error
	}{
		{name: "success", mutate: func(in *service.CreateStockItemInput) {}},
		{name: "error: empty sku", mutate: func(in *service.CreateStockItemInput) { in.SKU = " " }, expectedError: service.ErrValidation},
		{name: "error: empty name", mutate: func(in *service.CreateStockItemInput) { in.Name = "" }, expectedError: service.ErrValidation},
		{name: "error: empty unit", mutate: func(in *service.CreateStockItemInput) { in.Unit = "" }, expectedError: service.ErrValidation},
		{name: "error: negative on hand", mutate: func(in *service.CreateStockItemInput) { in.QuantityOnHand = dec("-1") }, expectedError: service.ErrValidation},
		{name: "error: negative price", mutate: func(in *service.CreateStockItemInput) { in.UnitSalePrice = dec("-0.01") }, expectedError: service.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			in := valid
			tt.mutate(&in)

			item, err := f.ledger.CreateStockItem(ctx, in)
			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, item.ID)
			requireDecimal(t, "0", item.QuantityReserved)
			requireDecimal(t, "12.5", item.Available())
		})
	}

	t.Run("error: duplicate sku", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ledger.CreateStockItem(ctx, valid)
		require.NoError(t, err)

		_, err = f.ledger.CreateStockItem(ctx, valid)
		require.ErrorIs(t, err, service.ErrValidation)
	})
}

func TestInventoryLedger_AdjustOnHand(t *testing.T) {
	ctx := authctx.WithUserID(context.Background(), "user-7")

	t.Run("receipt and correction are recorded as movements", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")

		got, err := f.ledger.AdjustOnHand(ctx, item.ID, dec("5"), "receipt")
		require.NoError(t, err)
		requireDecimal(t, "15", got.QuantityOnHand)

		got, err = f.ledger.AdjustOnHand(ctx, item.ID, dec("-15"), "correction")
		require.NoError(t, err)
		requireDecimal(t, "0", got.QuantityOnHand)

		movements := f.repo.Movements(item.ID)
		require.Len(t, movements, 2)
		assert.Equal(t, "receipt", movements[0].Reason)
		assert.Equal(t, "user-7", movements[0].CreatedBy)
		requireDecimal(t, "-15", movements[1].Delta)
	})

	t.Run("error: on hand would go negative", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "3")

		_, err := f.ledger.AdjustOnHand(ctx, item.ID, dec("-4"), "correction")
		require.ErrorIs(t, err, service.ErrInsufficientStock)

		var stockErr *service.StockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, item.ID, stockErr.StockItemID)
		requireDecimal(t, "3", stockErr.OnHand)

		got, err := f.ledger.GetStockItem(ctx, item.ID)
		require.NoError(t, err)
		requireDecimal(t, "3", got.QuantityOnHand)
		assert.Empty(t, f.repo.Movements(item.ID))
	})

	t.Run("reservations are not touched", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")
		_, err := f.ledger.Reserve(ctx, item.ID, dec("4"))
		require.NoError(t, err)

		got, err := f.ledger.AdjustOnHand(ctx, item.ID, dec("-8"), "damaged")
		require.NoError(t, err)
		requireDecimal(t, "4", got.QuantityReserved)
		requireDecimal(t, "-2", got.Available())
	})

	t.Run("error: zero delta", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")
		_, err := f.ledger.AdjustOnHand(ctx, item.ID, dec("0"), "noop")
		require.ErrorIs(t, err, service.ErrValidation)
	})

	t.Run("error: unknown stock item", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ledger.AdjustOnHand(ctx, "missing", dec("1"), "receipt")
		require.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestInventoryLedger_AdjustOnHand_PublishesActivity(t *testing.T) {
	ctx := authctx.WithUserID(context.Background(), "user-7")
	repo := memory.NewMemoryRepository()
	publisher := mocks.NewActivityPublisher(t)
	ledger := service.NewInventoryLedger(zap.NewNop(), repo, nil, publisher)

	item, err := ledger.CreateStockItem(ctx, service.CreateStockItemInput{
		SKU: "A", Name: "A", Unit: "pcs", QuantityOnHand: dec("1"),
	})
	require.NoError(t, err)

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(a service.Activity) bool {
		return a.Type == service.ActivityStockAdjusted &&
			a.StockItemID == item.ID &&
			a.ActorID == "user-7" &&
			a.EventID != "" &&
			a.Attributes["on_hand"] == "3"
	})).Return(errors.New("broker unavailable")).Once()

	// ошибка публикации не откатывает корректировку
	got, err := ledger.AdjustOnHand(ctx, item.ID, dec("2"), "receipt")
	require.NoError(t, err)
	requireDecimal(t, "3", got.QuantityOnHand)
}

func TestInventoryLedger_ReserveRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip restores reserved quantity", func(t *testing.T) {
		for _, q := range []string{"0.001", "1", "7.5", "250"} {
			f := newFixture(t, nil)
			item := f.stockItem(t, "A", "10")
			_, err := f.ledger.Reserve(ctx, item.ID, dec("2"))
			require.NoError(t, err)

			_, err = f.ledger.Reserve(ctx, item.ID, dec(q))
			require.NoError(t, err)
			_, err = f.ledger.Release(ctx, item.ID, dec(q))
			require.NoError(t, err)

			requireDecimal(t, "2", f.reserved(t, item.ID))
		}
	})

	t.Run("over-reservation is allowed and shows negative available", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "2")

		got, err := f.ledger.Reserve(ctx, item.ID, dec("5"))
		require.NoError(t, err)
		requireDecimal(t, "5", got.QuantityReserved)

		available, err := f.ledger.AvailableQuantity(ctx, item.ID)
		require.NoError(t, err)
		requireDecimal(t, "-3", available)
	})

	t.Run("release clamps at zero", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")
		_, err := f.ledger.Reserve(ctx, item.ID, dec("2"))
		require.NoError(t, err)

		got, err := f.ledger.Release(ctx, item.ID, dec("5"))
		require.NoError(t, err)
		requireDecimal(t, "0", got.QuantityReserved)
	})

	t.Run("error: non-positive reserve quantity", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")
		for _, q := range []string{"0", "-1"} {
			_, err := f.ledger.Reserve(ctx, item.ID, dec(q))
			require.ErrorIs(t, err, service.ErrValidation)
		}
		requireDecimal(t, "0", f.reserved(t, item.ID))
	})

	t.Run("error: negative release quantity", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.stockItem(t, "A", "10")
		_, err := f.ledger.Release(ctx, item.ID, dec("-1"))
		require.ErrorIs(t, err, service.ErrValidation)
	})
}

func TestInventoryLedger_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	item := f.stockItem(t, "A", "10")

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Reserve(ctx, item.ID, dec("1")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	requireDecimal(t, "50", f.reserved(t, item.ID))
}

func TestInventoryLedger_ListBelowMinimum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	plenty := f.stockItem(t, "PLENTY", "10")
	low := f.stockItem(t, "LOW", "0.5")
	reservedAway := f.stockItem(t, "RESERVED", "3")
	_, err := f.ledger.Reserve(ctx, reservedAway.ID, dec("2.5"))
	require.NoError(t, err)

	items, err := f.ledger.ListBelowMinimum(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{low.ID, reservedAway.ID}, ids)
	assert.NotContains(t, ids, plenty.ID)
}

func TestInventoryLedger_DeleteStockItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	item := f.stockItem(t, "A", "10")

	quote, err := f.quotes.Create(ctx, service.CreateQuoteInput{
		ClientID: "client-1",
		LineItems: []service.LineItemInput{
			{Description: "tile", Quantity: dec("2"), UnitPrice: dec("10"), StockItemID: strPtr(item.ID)},
		},
	})
	require.NoError(t, err)

	err = f.ledger.DeleteStockItem(ctx, item.ID)
	require.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = f.quotes.ChangeStatus(ctx, quote.Quote.ID, repository.QuoteRejected)
	require.NoError(t, err)

	require.NoError(t, f.ledger.DeleteStockItem(ctx, item.ID))
	_, err = f.ledger.GetStockItem(ctx, item.ID)
	require.ErrorIs(t, err, service.ErrNotFound)

	err = f.ledger.DeleteStockItem(ctx, item.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestInventoryLedger_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit is served without reading the store", func(t *testing.T) {
		cache := mocks.NewStockSnapshotCache(t)
		ledger := service.NewInventoryLedger(zap.NewNop(), memory.NewMemoryRepository(), cache, nil)

		cached := service.StockSnapshot{StockItemID: "item-1", OnHand: dec("4"), Reserved: dec("1"), Available: dec("3"), TakenAt: time.Now()}
		cache.On("Get", mock.Anything, "item-1").Return(cached, true, nil).Once()

		snap, err := ledger.Snapshot(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, cached, snap)
	})

	t.Run("miss reads the store and refreshes the cache", func(t *testing.T) {
		cache := mocks.NewStockSnapshotCache(t)
		ledger := service.NewInventoryLedger(zap.NewNop(), memory.NewMemoryRepository(), cache, nil)

		cache.On("Set", mock.Anything, mock.Anything).Return(nil).Once() // после CreateStockItem
		item, err := ledger.CreateStockItem(ctx, service.CreateStockItemInput{
			SKU: "A", Name: "A", Unit: "pcs", QuantityOnHand: dec("4"),
		})
		require.NoError(t, err)

		cache.On("Get", mock.Anything, item.ID).Return(service.StockSnapshot{}, false, nil).Once()
		cache.On("Set", mock.Anything, mock.MatchedBy(func(s service.StockSnapshot) bool {
			return s.StockItemID == item.ID && s.Available.Equal(dec("4"))
		})).Return(nil).Once()

		snap, err := ledger.Snapshot(ctx, item.ID)
		require.NoError(t, err)
		requireDecimal(t, "4", snap.OnHand)
	})

	t.Run("cache failure falls back to the store", func(t *testing.T) {
		cache := mocks.NewStockSnapshotCache(t)
		ledger := service.NewInventoryLedger(zap.NewNop(), memory.NewMemoryRepository(), cache, nil)

		cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("redis down"))
		item, err := ledger.CreateStockItem(ctx, service.CreateStockItemInput{
			SKU: "A", Name: "A", Unit: "pcs", QuantityOnHand: dec("4"),
		})
		require.NoError(t, err)

		cache.On("Get", mock.Anything, item.ID).Return(service.StockSnapshot{}, false, errors.New("redis down")).Once()

		snap, err := ledger.Snapshot(ctx, item.ID)
		require.NoError(t, err)
		requireDecimal(t, "0", snap.Reserved)
	})

	t.Run("error: unknown stock item", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ledger.Snapshot(ctx, "missing")
		require.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestInventoryLedger_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	item := f.stockItem(t, "A", "10")

	_, err := f.quotes.Create(ctx, service.CreateQuoteInput{
		ClientID: "client-1",
		LineItems: []service.LineItemInput{
			{Description: "a", Quantity: dec("2"), UnitPrice: dec("1"), StockItemID: strPtr(item.ID)},
			{Description: "b", Quantity: dec("1.5"), UnitPrice: dec("1"), StockItemID: strPtr(item.ID)},
		},
	})
	require.NoError(t, err)

	report, err := f.ledger.Reconcile(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.ActiveCount)
	requireDecimal(t, "3.5", report.ActiveTotal)

	// прямой резерв в обход ReservationManager даёт расхождение, которое видно в отчёте
	_, err = f.ledger.Reserve(ctx, item.ID, dec("1"))
	require.NoError(t, err)

	report, err = f.ledger.Reconcile(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	requireDecimal(t, "1", report.Drift)

	total, count, err := f.reservations.ActiveTotal(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	requireDecimal(t, "3.5", total)
}

func TestInventoryLedger_RejectsQuantityFinerThanStorageScale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	item := f.stockItem(t, "A", "10")

	_, err := f.ledger.CreateStockItem(ctx, service.CreateStockItemInput{
		SKU: "B", Name: "Item B", Unit: "m2", QuantityOnHand: dec("1.0004"),
	})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = f.ledger.AdjustOnHand(ctx, item.ID, dec("0.0005"), "receipt")
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = f.ledger.Reserve(ctx, item.ID, dec("0.0004"))
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = f.ledger.Release(ctx, item.ID, dec("0.0004"))
	require.ErrorIs(t, err, service.ErrValidation)

	// три знака и лишние нули допустимы
	_, err = f.ledger.Reserve(ctx, item.ID, dec("1.2500"))
	require.NoError(t, err)
	requireDecimal(t, "1.25", f.reserved(t, item.ID))
	requireDecimal(t, "10", mustOnHand(t, f, item.ID))
}

func mustOnHand(t *testing.T, f *fixture, id string) decimal.Decimal {
	t.Helper()
	item, err := f.ledger.GetStockItem(context.Background(), id)
	require.NoError(t, err)
	return item.QuantityOnHand
}
