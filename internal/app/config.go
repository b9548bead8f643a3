package app

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	MongoURI            string
	MongoDatabase       string
	// SeedCatalogue заполняет демо-каталог; применяется только к memory-хранилищу.
	SeedCatalogue bool

	// RedisAddr включает кэш корзин; пустой адрес — без кэша.
	RedisAddr    string
	CartCacheTTL time.Duration

	// KafkaBrokers — список брокеров через запятую; пустой список отключает публикацию outbox.
	KafkaBrokers string
	KafkaTopic   string
	// KafkaReceiptTopic получает квитанции; события жизненного цикла идут в KafkaTopic.
	KafkaReceiptTopic string

	PaymentTimeout          time.Duration
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
	OrderRecordAttempts     int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на memory-хранилище.
func DefaultConfig() Config {
	breaker := payment.DefaultBreakerSettings()
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MongoDatabase:       "storefront",
		SeedCatalogue:       true,

		CartCacheTTL: 15 * time.Minute,

		KafkaTopic:        kafka.TopicOrderEvents,
		KafkaReceiptTopic: kafka.TopicOrderReceipts,

		PaymentTimeout:          5 * time.Second,
		BreakerFailureThreshold: breaker.ConsecutiveFailures,
		BreakerOpenTimeout:      breaker.OpenTimeout,
		OrderRecordAttempts:     3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
	}
}
