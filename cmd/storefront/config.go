package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envHTTPAddr    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr = "STOREFRONT_METRICS_ADDR"

	envStorageDriver       = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN         = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envMongoURI            = "STOREFRONT_MONGO_URI"
	envMongoDatabase       = "STOREFRONT_MONGO_DATABASE"
	envSeedCatalogue       = "STOREFRONT_SEED_CATALOGUE"

	envRedisAddr    = "STOREFRONT_REDIS_ADDR"
	envCartCacheTTL = "STOREFRONT_CART_CACHE_TTL"

	envKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic   = "STOREFRONT_KAFKA_TOPIC"
	envReceiptTopic = "STOREFRONT_KAFKA_RECEIPT_TOPIC"

	envPaymentTimeout      = "STOREFRONT_PAYMENT_TIMEOUT"
	envBreakerFailures     = "STOREFRONT_PAYMENT_BREAKER_FAILURES"
	envBreakerOpenTimeout  = "STOREFRONT_PAYMENT_BREAKER_OPEN_TIMEOUT"
	envOrderRecordAttempts = "STOREFRONT_ORDER_RECORD_ATTEMPTS"

	envOutboxPollInterval = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "STOREFRONT_OUTBOX_RETRY_DELAY"

	envLogLevel  = "STOREFRONT_LOG_LEVEL"
	envLogFormat = "STOREFRONT_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию, возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v, using default", key, raw, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envMongoURI, &cfg.MongoURI)
	str(envMongoDatabase, &cfg.MongoDatabase)
	boolean(envSeedCatalogue, &cfg.SeedCatalogue)

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envCartCacheTTL, &cfg.CartCacheTTL, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envReceiptTopic, &cfg.KafkaReceiptTopic)

	duration(envPaymentTimeout, &cfg.PaymentTimeout, positiveDuration, "must be > 0")
	failures := int(cfg.BreakerFailureThreshold)
	integer(envBreakerFailures, &failures, positive, "must be > 0")
	cfg.BreakerFailureThreshold = uint32(failures)
	duration(envBreakerOpenTimeout, &cfg.BreakerOpenTimeout, positiveDuration, "must be > 0")
	integer(envOrderRecordAttempts, &cfg.OrderRecordAttempts, positive, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}
