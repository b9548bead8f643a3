// Package httpapi — публичный HTTP API витрины на gin.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

// CatalogueService — чтение каталога.
type CatalogueService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
}

// CartService — операции над корзиной пользователя.
type CartService interface {
	AddItem(ctx context.Context, userID, productID string, quantity int) (cart.Result, error)
	SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (cart.Result, error)
	RemoveItem(ctx context.Context, userID, productID string) (cart.Result, error)
	Clear(ctx context.Context, userID string) (cart.Result, error)
	View(ctx context.Context, userID string) (cart.View, error)
}

// CheckoutService оформляет заказ из корзины.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

// OrderService — чтение и администрирование заказов.
type OrderService interface {
	Get(ctx context.Context, id string) (order.Details, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListAll(ctx context.Context, limit int) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id, rawStatus string) (domain.Order, error)
	Delete(ctx context.Context, id string) error
}

// Services — прикладные сервисы, которые обслуживает API.
type Services struct {
	Catalogue CatalogueService
	Carts     CartService
	Checkout  CheckoutService
	Orders    OrderService
}

// Server связывает маршруты gin с прикладными сервисами.
type Server struct {
	engine   *gin.Engine
	services Services
	locks    *userLocks
	metrics  *metrics.HTTPMetrics
	logger   *log.Entry
}

// NewServer создаёт HTTP API. httpMetrics может быть nil.
func NewServer(services Services, httpMetrics *metrics.HTTPMetrics, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	engine := gin.New()
	s := &Server{
		engine:   engine,
		services: services,
		locks:    newUserLocks(),
		metrics:  httpMetrics,
		logger:   logger,
	}
	engine.Use(gin.Recovery(), s.observe())
	s.registerRoutes()
	return s
}

// Engine возвращает gin.Engine для http.Server и тестов.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/api/v1")

	products := v1.Group("/products")
	products.GET("", s.listProducts)
	products.GET("/:id", s.getProduct)

	users := v1.Group("/users/:user_id")
	users.GET("/cart", s.viewCart)
	users.DELETE("/cart", s.clearCart)
	users.POST("/cart/items", s.addCartItem)
	users.PUT("/cart/items/:product_id", s.setCartItemQuantity)
	users.DELETE("/cart/items/:product_id", s.removeCartItem)
	users.POST("/checkout", s.checkout)
	users.GET("/orders", s.listUserOrders)

	v1.GET("/orders/:id", s.getOrder)

	admin := v1.Group("/admin")
	admin.GET("/orders", s.listAllOrders)
	admin.PATCH("/orders/:id/status", s.updateOrderStatus)
	admin.DELETE("/orders/:id", s.deleteOrder)
}

// observe пишет access-лог и метрики по шаблону маршрута.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		s.metrics.ObserveRequest(c.Request.Method, c.FullPath(), status, latency)

		entry := s.logger.WithFields(log.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"latency":   latency,
			"client_ip": c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("http request")
		case status >= 400:
			entry.Warn("http request")
		default:
			entry.Debug("http request")
		}
	}
}
