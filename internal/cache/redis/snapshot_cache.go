package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/service"
)

const (
	hashFieldOnHand    = "on_hand"
	hashFieldReserved  = "reserved"
	hashFieldAvailable = "available"
	hashFieldTakenAt   = "taken_at"
)

// SnapshotCache реализует service.StockSnapshotCache используя Redis hash с TTL
type SnapshotCache struct {
	client redis.Cmdable
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotCache создаёт новый Redis кэш снимков складских позиций
func NewSnapshotCache(client redis.Cmdable, logger *zap.Logger, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func snapshotKey(stockItemID string) string {
	return fmt.Sprintf("stock:snapshot:%s", stockItemID)
}

// Set записывает снимок и продлевает TTL
func (c *SnapshotCache) Set(ctx context.Context, snap service.StockSnapshot) error {
	key := snapshotKey(snap.StockItemID)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		hashFieldOnHand, snap.OnHand.String(),
		hashFieldReserved, snap.Reserved.String(),
		hashFieldAvailable, snap.Available.String(),
		hashFieldTakenAt, snap.TakenAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write stock snapshot: %w", err)
	}

	c.logger.Debug("stock snapshot cached",
		zap.String("stock_item_id", snap.StockItemID),
		zap.Duration("ttl", c.ttl),
	)
	return nil
}

// Get читает снимок; found=false, если ключ истёк или не записывался
func (c *SnapshotCache) Get(ctx context.Context, stockItemID string) (service.StockSnapshot, bool, error) {
	values, err := c.client.HGetAll(ctx, snapshotKey(stockItemID)).Result()
	if err != nil {
		return service.StockSnapshot{}, false, fmt.Errorf("failed to read stock snapshot: %w", err)
	}
	if len(values) == 0 {
		return service.StockSnapshot{}, false, nil
	}

	snap, err := decodeSnapshot(stockItemID, values)
	if err != nil {
		// битый снимок считается промахом: следующий Set его перезапишет
		c.logger.Warn("corrupted stock snapshot in cache",
			zap.String("stock_item_id", stockItemID),
			zap.Error(err),
		)
		return service.StockSnapshot{}, false, nil
	}
	return snap, true, nil
}

func decodeSnapshot(stockItemID string, values map[string]string) (service.StockSnapshot, error) {
	snap := service.StockSnapshot{StockItemID: stockItemID}

	var err error
	if snap.OnHand, err = decimal.NewFromString(values[hashFieldOnHand]); err != nil {
		return service.StockSnapshot{}, fmt.Errorf("field %s: %w", hashFieldOnHand, err)
	}
	if snap.Reserved, err = decimal.NewFromString(values[hashFieldReserved]); err != nil {
		return service.StockSnapshot{}, fmt.Errorf("field %s: %w", hashFieldReserved, err)
	}
	if snap.Available, err = decimal.NewFromString(values[hashFieldAvailable]); err != nil {
		return service.StockSnapshot{}, fmt.Errorf("field %s: %w", hashFieldAvailable, err)
	}
	if snap.TakenAt, err = time.Parse(time.RFC3339Nano, values[hashFieldTakenAt]); err != nil {
		return service.StockSnapshot{}, fmt.Errorf("field %s: %w", hashFieldTakenAt, err)
	}
	return snap, nil
}
