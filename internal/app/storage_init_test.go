package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestInitRuntimeDependencies_MemorySeedsCatalogue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, err := initRuntimeDependencies(ctx, Config{
		StorageDriver: StorageDriverMemory,
		SeedCatalogue: true,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.close(ctx) })

	require.NotNil(t, deps.products)
	require.NotNil(t, deps.carts)
	require.NotNil(t, deps.orders)
	require.NotNil(t, deps.outbox)
	require.NotNil(t, deps.timeline)
	assert.Empty(t, deps.checkers)

	visible, err := deps.products.ListVisible(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(visible))
	for _, product := range visible {
		ids = append(ids, product.ID)
	}
	assert.ElementsMatch(t, []string{"laptop", "monitor"}, ids)

	keyboard, err := deps.products.GetProduct(ctx, "keyboard")
	require.NoError(t, err)
	assert.Equal(t, "85.50", keyboard.UnitPrice.StringFixed(2))
	assert.Zero(t, keyboard.Stock)
}

func TestInitRuntimeDependencies_MemoryWithoutSeed(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "memory-empty"))
	require.NoError(t, err)

	visible, err := deps.products.ListVisible(context.Background())
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_MongoRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMongo,
	}, log.WithField("test", "mongo-missing-uri"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestInitRuntimeDependencies_CartCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)

	deps, err := initRuntimeDependencies(ctx, Config{
		StorageDriver: StorageDriverMemory,
		RedisAddr:     mr.Addr(),
		CartCacheTTL:  time.Minute,
	}, log.WithField("test", "cart-cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.close(ctx) })

	checker, ok := deps.checkers["cart-cache"]
	require.True(t, ok)
	assert.Equal(t, healthcheck.StatusHealthy, checker.Check().Status)

	saved, err := deps.carts.Save(ctx, domain.Cart{UserID: "u-1"})
	require.NoError(t, err)

	got, err := deps.carts.GetByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.True(t, mr.Exists("cart:u-1"))

	mr.Close()
	assert.Equal(t, healthcheck.StatusDegraded, checker.Check().Status)
}

func TestDetachUndeliverableOutbox(t *testing.T) {
	logger := log.WithField("test", "outbox-detach")

	memoryDeps, err := initRuntimeDependencies(context.Background(), Config{}, logger)
	require.NoError(t, err)
	memoryDeps.detachUndeliverableOutbox(true, logger)
	assert.NotNil(t, memoryDeps.outbox, "outbox stays while a publisher drains it")
	memoryDeps.detachUndeliverableOutbox(false, logger)
	assert.Nil(t, memoryDeps.outbox)

	durable := &runtimeDependencies{outbox: memory.NewOutboxRepository()}
	durable.detachUndeliverableOutbox(false, logger)
	assert.NotNil(t, durable.outbox, "durable outbox keeps messages until a broker appears")
}

func TestNewServices_CheckoutWithoutOutbox(t *testing.T) {
	ctx := context.Background()
	logger := log.WithField("test", "no-outbox")

	deps, err := initRuntimeDependencies(ctx, Config{SeedCatalogue: true}, logger)
	require.NoError(t, err)
	deps.detachUndeliverableOutbox(false, logger)

	services, err := newServices(DefaultConfig(), deps, metrics.NewCheckoutMetrics(), logger)
	require.NoError(t, err)

	_, err = services.Carts.AddItem(ctx, "u-1", "laptop", 1)
	require.NoError(t, err)

	res, err := services.Checkout.Checkout(ctx, checkout.Request{
		UserID:          "u-1",
		Instrument:      domain.PaymentInstrument{CardNumber: "4111111111111111"},
		ShippingAddress: "Main st. 1",
		NotifyEmail:     "u-1@example.com",
	})
	require.NoError(t, err)

	history, err := deps.timeline.List(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
