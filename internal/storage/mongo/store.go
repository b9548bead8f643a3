// Package mongo хранит каталог, корзины, заказы и события заказов в MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout          = 5 * time.Second
	defaultConnTimeout = 10 * time.Second

	collectionProducts = "products"
	collectionCarts    = "carts"
	collectionOrders   = "orders"
	collectionOutbox   = "outbox_messages"
	collectionTimeline = "timeline_events"
)

// Store оборачивает клиент MongoDB и базу витрины.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect подключается к MongoDB и проверяет доступность сервера.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(defaultConnTimeout).
		SetServerSelectionTimeout(opTimeout).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	store := &Store{client: client, db: client.Database(database)}
	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return store, nil
}

// Ping проверяет доступность сервера.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("mongo store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, nil)
}

// EnsureIndexes создаёт индексы: уникальная корзина на пользователя,
// выборки заказов пользователя и pending-сообщений outbox.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collectionProducts: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "name", Value: 1}}},
		},
		collectionCarts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collectionOrders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		collectionOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		collectionTimeline: {
			{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "occurred", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// Products возвращает каталог со складским учётом.
func (s *Store) Products() domain.ProductRepository {
	return &productRepository{collection: s.db.Collection(collectionProducts)}
}

// Carts возвращает репозиторий корзин.
func (s *Store) Carts() domain.CartRepository {
	return &cartRepository{collection: s.db.Collection(collectionCarts)}
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{collection: s.db.Collection(collectionOrders)}
}

// Outbox возвращает transactional outbox.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{collection: s.db.Collection(collectionOutbox)}
}

// Timeline возвращает хранилище событий заказа.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineRepository{collection: s.db.Collection(collectionTimeline)}
}

// Close отключает клиента.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
