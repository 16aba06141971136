//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/shestoi/backoffice/internal/authctx"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/internal/service"
	"github.com/shestoi/backoffice/migrations"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("ledger_user"),
		postgres.WithPassword("ledger_password"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, postgresContainer.Terminate(ctx))
	})

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	require.NoError(t, migrations.Up(ctx, db), "Failed to run migrations")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newStockItem(sku string, onHand int64) repository.StockItem {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return repository.StockItem{
		ID:             uuid.NewString(),
		SKU:            sku,
		Name:           "Porcelain tile " + sku,
		Unit:           "m2",
		QuantityOnHand: decimal.NewFromInt(onHand),
		MinimumStock:   decimal.NewFromInt(10),
		UnitSalePrice:  decimal.RequireFromString("12.50"),
		UnitCostPrice:  decimal.RequireFromString("7.25"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupPostgres(t))

	item := newStockItem("TILE-60", 100)
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		return store.CreateStockItem(ctx, item)
	}))

	t.Run("GetStockItem", func(t *testing.T) {
		err := repo.View(ctx, func(ctx context.Context, store repository.Store) error {
			got, err := store.GetStockItem(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, item.SKU, got.SKU)
			assert.True(t, got.QuantityOnHand.Equal(item.QuantityOnHand))
			assert.True(t, got.UnitSalePrice.Equal(item.UnitSalePrice))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("GetStockItem_NotFound", func(t *testing.T) {
		err := repo.View(ctx, func(ctx context.Context, store repository.Store) error {
			_, err := store.GetStockItem(ctx, uuid.NewString())
			return err
		})
		assert.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)

		// не-UUID id тоже считается отсутствующим
		err = repo.View(ctx, func(ctx context.Context, store repository.Store) error {
			_, err := store.GetStockItem(ctx, "not-a-uuid")
			return err
		})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("DuplicateSKU", func(t *testing.T) {
		err := repo.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
			return store.CreateStockItem(ctx, newStockItem("TILE-60", 1))
		})
		assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
			if err := store.UpdateStockQuantities(ctx, item.ID, decimal.NewFromInt(1), decimal.Zero, time.Now()); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = repo.View(ctx, func(ctx context.Context, store repository.Store) error {
			got, err := store.GetStockItem(ctx, item.ID)
			require.NoError(t, err)
			assert.True(t, got.QuantityOnHand.Equal(decimal.NewFromInt(100)))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Sequences", func(t *testing.T) {
		err := repo.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
			first, err := store.NextNumber(ctx, repository.SequenceQuote)
			require.NoError(t, err)
			second, err := store.NextNumber(ctx, repository.SequenceQuote)
			require.NoError(t, err)
			assert.Equal(t, first+1, second)
			return nil
		})
		require.NoError(t, err)
	})
}

// Полный жизненный цикл через service слой поверх PostgreSQL
func TestLedger_Integration(t *testing.T) {
	ctx := authctx.WithUserID(context.Background(), "user-1")
	repo := NewRepository(setupPostgres(t))
	logger := zap.NewNop()

	ledger := service.NewInventoryLedger(logger, repo, nil, nil)
	reservations := service.NewReservationManager(logger, repo, ledger, nil)
	quotes := service.NewQuoteService(logger, repo, ledger, reservations, nil)
	invoices := service.NewInvoiceService(logger, repo, nil)

	created, err := ledger.CreateStockItem(ctx, service.CreateStockItemInput{
		SKU:            "TILE-90",
		Name:           "Porcelain tile 90x90",
		Unit:           "m2",
		QuantityOnHand: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	stockID := created.ID

	requireReserved := func(t *testing.T, want string) {
		t.Helper()
		report, err := ledger.Reconcile(ctx, stockID)
		require.NoError(t, err)
		assert.True(t, report.Consistent(), "drift: %s", report.Drift)
		assert.True(t, report.QuantityReserved.Equal(decimal.RequireFromString(want)),
			"reserved %s, want %s", report.QuantityReserved, want)
	}

	newQuote := func(t *testing.T, qty string) service.QuoteDetails {
		t.Helper()
		details, err := quotes.Create(ctx, service.CreateQuoteInput{
			ClientID: "client-1",
			LineItems: []service.LineItemInput{
				{Description: "Tile", Quantity: decimal.RequireFromString(qty), UnitPrice: decimal.NewFromInt(5), StockItemID: &stockID},
				{Description: "Labour", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10)},
			},
			TaxRate: decimal.RequireFromString("0.2"),
		})
		require.NoError(t, err)
		return details
	}

	t.Run("CreateRejectDelete", func(t *testing.T) {
		q := newQuote(t, "30")
		require.Len(t, q.Reservations, 1)
		requireReserved(t, "30")

		_, err := quotes.ChangeStatus(ctx, q.Quote.ID, repository.QuoteRejected)
		require.NoError(t, err)
		requireReserved(t, "0")

		require.NoError(t, quotes.Delete(ctx, q.Quote.ID))
		requireReserved(t, "0")
	})

	t.Run("AcceptInvoiceDelete", func(t *testing.T) {
		q := newQuote(t, "12.5")
		_, err := quotes.ChangeStatus(ctx, q.Quote.ID, repository.QuoteAccepted)
		require.NoError(t, err)
		// принятое предложение держит резерв
		requireReserved(t, "12.5")

		inv, err := invoices.ConvertToInvoice(ctx, q.Quote.ID)
		require.NoError(t, err)
		assert.True(t, inv.Total.Equal(q.Quote.Total))

		require.NoError(t, quotes.Delete(ctx, q.Quote.ID))
		requireReserved(t, "0")
		got, err := invoices.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Nil(t, got.QuoteID)
	})

	t.Run("UnknownStockReference", func(t *testing.T) {
		missing := uuid.NewString()
		_, err := quotes.Create(ctx, service.CreateQuoteInput{
			ClientID: "client-1",
			LineItems: []service.LineItemInput{
				{Description: "Ghost", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1), StockItemID: &missing},
			},
		})
		require.ErrorIs(t, err, service.ErrReservationFailed)
	})

	t.Run("ConcurrentQuotes", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 10)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				details, err := quotes.Create(ctx, service.CreateQuoteInput{
					ClientID: "client-2",
					LineItems: []service.LineItemInput{
						{Description: "Tile", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(5), StockItemID: &stockID},
					},
				})
				assert.NoError(t, err)
				ids[i] = details.Quote.ID
			}(i)
		}
		wg.Wait()
		requireReserved(t, "30")

		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, quotes.Delete(ctx, id))
			}(id)
		}
		wg.Wait()
		requireReserved(t, "0")
	})
}
