// Команда notifier читает квитанции заказов из Kafka и рассылает их покупателям.
// Сообщения, которые не удалось обработать после повторов, уходят в DLQ.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
)

const (
	envKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"
	envReceiptTopic = "STOREFRONT_KAFKA_RECEIPT_TOPIC"
	envGroupID      = "STOREFRONT_NOTIFIER_GROUP"
	envMaxRetries   = "STOREFRONT_NOTIFIER_MAX_RETRIES"

	defaultGroupID    = "storefront-notifier"
	defaultMaxRetries = 3
)

type notifierConfig struct {
	brokers    []string
	topic      string
	groupID    string
	maxRetries int
}

func readConfig(lookup func(string) (string, bool)) (notifierConfig, error) {
	cfg := notifierConfig{
		topic:      kafka.TopicOrderReceipts,
		groupID:    defaultGroupID,
		maxRetries: defaultMaxRetries,
	}

	value := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	for _, broker := range strings.Split(value(envKafkaBrokers), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return notifierConfig{}, fmt.Errorf("%s is required", envKafkaBrokers)
	}
	if v := value(envReceiptTopic); v != "" {
		cfg.topic = v
	}
	if v := value(envGroupID); v != "" {
		cfg.groupID = v
	}
	if v := value(envMaxRetries); v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil || retries < 0 {
			return notifierConfig{}, fmt.Errorf("invalid %s=%q", envMaxRetries, v)
		}
		cfg.maxRetries = retries
	}
	return cfg, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}

	cfg, err := readConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("invalid notifier configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("notifier failed")
	}
	log.Info("notifier остановлен")
}

func run(ctx context.Context, cfg notifierConfig) error {
	logger := log.WithField("component", "notifier")

	dlqProducer, err := kafka.NewProducer(cfg.brokers, logger.WithField("component", "notifier-dlq"))
	if err != nil {
		return err
	}
	defer func() {
		if err := dlqProducer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dlq producer")
		}
	}()

	dispatcher := notification.NewDispatcher(notification.NewLogSender(logger.WithField("component", "receipt-sender")), logger)
	consumer, err := kafka.NewConsumerWithDLQ(cfg.brokers, cfg.groupID, []string{cfg.topic}, dispatcher.Handle, dlqProducer, cfg.maxRetries)
	if err != nil {
		return err
	}
	consumer.WithLogger(logger.WithField("component", "notifier-consumer"))

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"topic":    cfg.topic,
		"group_id": cfg.groupID,
	}).Info("notifier started")

	<-ctx.Done()
	return consumer.Stop()
}
