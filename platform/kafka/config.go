package kafka

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config параметры подключения consumer'а к Kafka.
// Локально брокер доступен как 127.0.0.1:19092, в Docker как kafka:9092.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"ACTIVITY_TOPIC" envDefault:"backoffice.activity"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"activity-tail"`
}

// DefaultConfig возвращает конфигурацию для локальной разработки
func DefaultConfig() Config {
	return Config{
		Brokers: []string{"127.0.0.1:19092"},
		Topic:   "backoffice.activity",
		GroupID: "activity-tail",
	}
}

// LoadEnv перекрывает поля cfg значениями из переменных окружения
func LoadEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse kafka env: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	return nil
}
