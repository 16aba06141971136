package observability

import "time"

// Config настройки OpenTelemetry для сервиса
type Config struct {
	// Enabled включить экспорт в OTLP collector, иначе ставятся noop providers
	Enabled bool
	// OTLPEndpoint адрес OTLP gRPC (traces + metrics), например "127.0.0.1:4317"
	OTLPEndpoint string
	// SamplingRatio доля трасс для семплирования (0..1)
	SamplingRatio float64
	ServiceName   string
	// DeploymentEnvironment окружение (local, docker)
	DeploymentEnvironment string
	ServiceVersion        string
	// MetricInterval период выгрузки метрик, default 10s
	MetricInterval time.Duration
}
