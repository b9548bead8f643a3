package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/cache"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/mongo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — хранилища выбранного драйвера и их жизненный цикл.
type runtimeDependencies struct {
	products domain.ProductRepository
	carts    domain.CartRepository
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository

	// volatileOutbox — outbox живёт только в памяти процесса и без publisher
	// никогда не будет разобран.
	volatileOutbox bool

	checkers map[string]healthcheck.Checker
	closers  []func(ctx context.Context) error
}

func (d *runtimeDependencies) addChecker(name string, checker healthcheck.Checker) {
	if d.checkers == nil {
		d.checkers = make(map[string]healthcheck.Checker)
	}
	d.checkers[name] = checker
}

// detachUndeliverableOutbox отключает запись в in-memory outbox, если публиковать
// его некому. Постоянные хранилища копят сообщения до появления брокера.
func (d *runtimeDependencies) detachUndeliverableOutbox(publisherReady bool, logger *log.Entry) {
	if publisherReady || !d.volatileOutbox || d.outbox == nil {
		return
	}
	d.outbox = nil
	logger.Info("kafka is not configured, in-memory outbox disabled")
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	var (
		deps *runtimeDependencies
		err  error
	)
	switch driver {
	case StorageDriverMemory:
		deps, err = initMemoryStorage(ctx, cfg, logger)
	case StorageDriverPostgres:
		deps, err = initPostgresStorage(ctx, cfg, logger)
	case StorageDriverMongo:
		deps, err = initMongoStorage(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		initCartCache(ctx, cfg, deps, logger)
	}
	return deps, nil
}

func initMemoryStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{
		products: memory.NewProductRepository(),
		carts:    memory.NewCartRepository(),
		orders:   memory.NewOrderRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),

		volatileOutbox: true,
	}
	if cfg.SeedCatalogue {
		if err := seedCatalogue(ctx, deps.products); err != nil {
			return nil, err
		}
		logger.Info("demo catalogue seeded")
	}
	return deps, nil
}

func initPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres storage requires a DSN")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	deps := &runtimeDependencies{
		products: store.Products(),
		carts:    store.Carts(),
		orders:   store.Orders(),
		outbox:   store.Outbox(),
		timeline: store.Timeline(),
		closers:  []func(context.Context) error{func(context.Context) error { return store.Close() }},
	}
	deps.addChecker("postgres", healthcheck.NewPingChecker("postgres", store.DB().PingContext))
	logger.Info("postgres storage initialized")
	return deps, nil
}

func initMongoStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	uri := strings.TrimSpace(cfg.MongoURI)
	if uri == "" {
		return nil, errors.New("mongo storage requires a URI")
	}

	store, err := mongo.Connect(ctx, uri, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}

	deps := &runtimeDependencies{
		products: store.Products(),
		carts:    store.Carts(),
		orders:   store.Orders(),
		outbox:   store.Outbox(),
		timeline: store.Timeline(),
		closers:  []func(context.Context) error{store.Close},
	}
	deps.addChecker("mongo", healthcheck.NewPingChecker("mongo", store.Ping))
	logger.WithField("database", cfg.MongoDatabase).Info("mongo storage initialized")
	return deps, nil
}

// initCartCache оборачивает репозиторий корзин кэшем Redis.
// Недоступный Redis не мешает старту: кэш включается, проверка помечается degraded.
func initCartCache(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is not reachable, cart cache will retry lazily")
	}

	deps.carts = cache.NewCachedCartRepository(deps.carts, cache.NewCartCache(client, cfg.CartCacheTTL), logger.WithField("component", "cart-cache"))
	deps.closers = append(deps.closers, func(context.Context) error { return client.Close() })
	deps.addChecker("cart-cache", healthcheck.NewOptionalPingChecker("cart-cache", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	logger.WithField("addr", cfg.RedisAddr).Info("cart cache enabled")
}

// seedCatalogue заполняет демо-каталог; один товар без остатка и в публичном каталоге не виден.
func seedCatalogue(ctx context.Context, products domain.ProductRepository) error {
	seed := []domain.Product{
		{ID: "laptop", Name: "Laptop", UnitPrice: decimal.RequireFromString("1200.00"), Stock: 5},
		{ID: "keyboard", Name: "Keyboard", UnitPrice: decimal.RequireFromString("85.50"), Stock: 0},
		{ID: "monitor", Name: "Monitor", UnitPrice: decimal.RequireFromString("350.00"), Stock: 10},
	}
	for _, product := range seed {
		product.Status = domain.ProductStatusActive
		if _, err := products.Upsert(ctx, product); err != nil {
			return fmt.Errorf("seed product %s: %w", product.ID, err)
		}
	}
	return nil
}
