package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	t.Run("defaults are kept", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, LoadEnv(&cfg))
		assert.Equal(t, []string{"127.0.0.1:19092"}, cfg.Brokers)
		assert.Equal(t, "backoffice.activity", cfg.Topic)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
		t.Setenv("KAFKA_GROUP_ID", "audit")

		cfg := DefaultConfig()
		require.NoError(t, LoadEnv(&cfg))
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
		assert.Equal(t, "audit", cfg.GroupID)
	})
}
