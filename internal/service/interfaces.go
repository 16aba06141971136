package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Activity факт, который произошёл в ядре (для внешнего журнала и уведомлений)
type Activity struct {
	EventID     string
	Type        string
	OccurredAt  time.Time
	ActorID     string
	QuoteID     string
	StockItemID string
	ClientID    string
	Attributes  map[string]string
}

const (
	ActivityQuoteCreated        = "quote.created"
	ActivityQuoteStatusChanged  = "quote.status_changed"
	ActivityQuoteDeleted        = "quote.deleted"
	ActivityReservationReleased = "reservation.released"
	ActivityStockAdjusted       = "stock.adjusted"
	ActivityInvoiceCreated      = "invoice.created"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=ActivityPublisher --dir=. --output=./mocks --outpkg=mocks

// ActivityPublisher публикует факты. Вызывается после commit, ошибки только логируются
// и никогда не откатывают основную операцию.
type ActivityPublisher interface {
	Publish(ctx context.Context, activity Activity) error
}

// StockSnapshot снимок количеств позиции для клиентских представлений (может устареть)
type StockSnapshot struct {
	StockItemID string
	OnHand      decimal.Decimal
	Reserved    decimal.Decimal
	Available   decimal.Decimal
	TakenAt     time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=StockSnapshotCache --dir=. --output=./mocks --outpkg=mocks

// StockSnapshotCache кэш снимков. Инвариант резервов по нему не проверяется.
type StockSnapshotCache interface {
	// Get возвращает found=false при промахе
	Get(ctx context.Context, stockItemID string) (snap StockSnapshot, found bool, err error)
	Set(ctx context.Context, snap StockSnapshot) error
}

// NoopActivityPublisher ничего не публикует (Kafka выключена)
type NoopActivityPublisher struct{}

// Publish ничего не делает
func (NoopActivityPublisher) Publish(ctx context.Context, activity Activity) error { return nil }

// NoopSnapshotCache всегда промахивается (Redis выключен)
type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(ctx context.Context, stockItemID string) (StockSnapshot, bool, error) {
	return StockSnapshot{}, false, nil
}

func (NoopSnapshotCache) Set(ctx context.Context, snap StockSnapshot) error { return nil }

// ReservationMetrics считает созданные и отменённые резервы (OTLP counter в app; nil — не считать)
type ReservationMetrics interface {
	RecordReservations(ctx context.Context, op string, count int)
}

const (
	ReservationOpCreated  = "created"
	ReservationOpReleased = "released"
)
