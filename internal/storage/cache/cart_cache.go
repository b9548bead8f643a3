// Package cache содержит read-through кэш корзин в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — базовое время жизни записи; к нему добавляется случайный джиттер.
const DefaultTTL = 15 * time.Minute

const maxJitterMinutes = 5

var (
	// ErrCacheMiss — в кэше нет корзины пользователя.
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleGeneration — запись инвалидирована после начала чтения.
	ErrStaleGeneration = errors.New("cart cache generation changed")
)

type cachedItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type cachedCart struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Items     []cachedItem    `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartCache хранит корзины в Redis под ключом cart:<userID>.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewCartCache создаёт кэш корзин. ttl <= 0 означает DefaultTTL.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CartCache{client: client, baseTTL: ttl}
}

// Get возвращает корзину пользователя или ErrCacheMiss.
func (c *CartCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get failed: %w", err)
	}

	var cached cachedCart
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	cart := domain.Cart{
		ID:        cached.ID,
		UserID:    cached.UserID,
		Total:     cached.Total,
		CreatedAt: cached.CreatedAt.UTC(),
		UpdatedAt: cached.UpdatedAt.UTC(),
	}
	for _, item := range cached.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return cart, nil
}

// Generation возвращает текущее поколение записи пользователя. Каждое
// Invalidate увеличивает его; отсутствующий ключ означает поколение 0.
func (c *CartCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set кладёт корзину в кэш с TTL и джиттером, только если поколение записи
// всё ещё равно gen. Иначе корзина устарела и возвращается ErrStaleGeneration.
func (c *CartCache) Set(ctx context.Context, cart domain.Cart, gen int64) error {
	cached := cachedCart{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Items:     make([]cachedItem, 0, len(cart.Items)),
		Total:     cart.Total,
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		cached.Items = append(cached.Items, cachedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(maxJitterMinutes)) * time.Minute
	genKey := generationKey(cart.UserID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(cart.UserID), data, c.baseTTL+jitter)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return ErrStaleGeneration
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Invalidate удаляет корзину пользователя и увеличивает поколение записи,
// чтобы чтения, начатые раньше, не вернули её в кэш.
func (c *CartCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + userID
}

func generationKey(userID string) string {
	return "cart:gen:" + userID
}

// CachedCartRepository — декоратор CartRepository: GetByUser читает через кэш,
// Save и Delete инвалидируют запись пользователя. Ошибки чтения и записи кэша
// только логируются; ошибка инвалидации после Delete возвращается вызывающему.
type CachedCartRepository struct {
	inner  domain.CartRepository
	cache  *CartCache
	logger *log.Entry
}

// NewCachedCartRepository оборачивает репозиторий корзин кэшем.
func NewCachedCartRepository(inner domain.CartRepository, cache *CartCache, logger *log.Entry) *CachedCartRepository {
	if logger == nil {
		logger = log.WithField("component", "cart-cache")
	}
	return &CachedCartRepository{inner: inner, cache: cache, logger: logger}
}

func (r *CachedCartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	saved, err := r.inner.Save(ctx, cart)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := r.cache.Invalidate(ctx, saved.UserID); err != nil {
		r.logger.WithError(err).WithField("user_id", saved.UserID).Warn("cart cache invalidation failed")
	}
	return saved, nil
}

func (r *CachedCartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	return r.inner.Get(ctx, id)
}

func (r *CachedCartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := r.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.WithError(err).WithField("user_id", userID).Warn("cart cache read failed")
	}

	// Поколение читается до обращения к хранилищу: если корзину изменят или
	// удалят во время чтения, Set откажется записывать устаревшую копию.
	gen, genErr := r.cache.Generation(ctx, userID)

	cart, err = r.inner.GetByUser(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	if genErr != nil {
		r.logger.WithError(genErr).WithField("user_id", userID).Warn("cart cache generation read failed")
		return cart, nil
	}
	if err := r.cache.Set(ctx, cart, gen); err != nil && !errors.Is(err, ErrStaleGeneration) {
		r.logger.WithError(err).WithField("user_id", userID).Warn("cart cache write failed")
	}
	return cart, nil
}

// GetByUserFromSource читает корзину из основного хранилища, не трогая кэш.
func (r *CachedCartRepository) GetByUserFromSource(ctx context.Context, userID string) (domain.Cart, error) {
	return r.inner.GetByUser(ctx, userID)
}

func (r *CachedCartRepository) Delete(ctx context.Context, id string) error {
	cart, err := r.inner.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.cache.Invalidate(ctx, cart.UserID); err != nil {
		return fmt.Errorf("cart %s deleted, cache not invalidated: %w", id, err)
	}
	return nil
}

var (
	_ domain.CartRepository = (*CachedCartRepository)(nil)
	_ domain.CartSource     = (*CachedCartRepository)(nil)
)
