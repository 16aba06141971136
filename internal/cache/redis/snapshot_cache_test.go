package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "stock:snapshot:item-1", snapshotKey("item-1"))
}

func TestDecodeSnapshot(t *testing.T) {
	t.Run("valid hash", func(t *testing.T) {
		snap, err := decodeSnapshot("item-1", map[string]string{
			hashFieldOnHand:    "12.5",
			hashFieldReserved:  "14",
			hashFieldAvailable: "-1.5",
			hashFieldTakenAt:   "2025-05-02T12:30:00.123Z",
		})
		require.NoError(t, err)
		assert.Equal(t, "item-1", snap.StockItemID)
		assert.Equal(t, "12.5", snap.OnHand.String())
		assert.Equal(t, "-1.5", snap.Available.String())
		assert.True(t, snap.TakenAt.Equal(time.Date(2025, time.May, 2, 12, 30, 0, 123000000, time.UTC)))
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := decodeSnapshot("item-1", map[string]string{
			hashFieldOnHand:   "1",
			hashFieldReserved: "0",
			hashFieldTakenAt:  "2025-05-02T12:30:00Z",
		})
		require.Error(t, err)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := decodeSnapshot("item-1", map[string]string{
			hashFieldOnHand:    "1",
			hashFieldReserved:  "0",
			hashFieldAvailable: "1",
			hashFieldTakenAt:   "yesterday",
		})
		require.Error(t, err)
	})
}
