// Package cart реализует операции над корзиной пользователя.
//
// Проверка остатка здесь мягкая: склад не резервируется, итоговое решение
// принимает атомарное списание при оформлении заказа.
package cart

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
)

// Result — корзина после операции и признак того, что она изменилась.
type Result struct {
	Cart    domain.Cart
	Changed bool
}

// View — текущее содержимое корзины. Empty выставляется и для отсутствующей корзины.
type View struct {
	Cart  domain.Cart
	Empty bool
}

// Service управляет корзинами. Операции одного пользователя сериализует вызывающая сторона.
type Service struct {
	carts   domain.CartRepository
	catalog domain.CatalogueReader
	pricing *pricing.Calculator
	logger  *log.Entry
}

// NewService создаёт сервис корзины.
func NewService(carts domain.CartRepository, catalog domain.CatalogueReader, calc *pricing.Calculator, logger *log.Entry) *Service {
	if calc == nil {
		calc = pricing.NewCalculator()
	}
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{carts: carts, catalog: catalog, pricing: calc, logger: logger}
}

// AddItem добавляет товар в корзину, объединяя строки одного товара.
// Корзина создаётся при первом добавлении.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (Result, error) {
	if userID == "" {
		return Result{}, domain.ErrUserRequired
	}
	if quantity <= 0 {
		return Result{}, domain.ErrInvalidQuantity
	}

	product, err := s.availableProduct(ctx, productID)
	if err != nil {
		return Result{}, err
	}

	result, err := s.addItem(ctx, userID, product, quantity)
	if errors.Is(err, domain.ErrCartAlreadyExists) {
		// Корзину создали параллельно: повторяем поверх сохранённой.
		result, err = s.addItem(ctx, userID, product, quantity)
	}
	return result, err
}

func (s *Service) addItem(ctx context.Context, userID string, product domain.Product, quantity int) (Result, error) {
	cart, err := s.loadOrNew(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if cart.QuantityOf(product.ID)+quantity > product.Stock {
		return Result{}, domain.ErrInsufficientStock
	}

	if idx := cart.IndexOf(product.ID); idx >= 0 {
		cart.Items[idx].Quantity += quantity
	} else {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: product.ID,
			Quantity:  quantity,
			UnitPrice: product.UnitPrice,
		})
	}

	saved, err := s.persist(ctx, cart)
	if err != nil {
		return Result{}, err
	}
	s.logger.WithFields(log.Fields{
		"user_id":    userID,
		"product_id": product.ID,
		"quantity":   quantity,
	}).Debug("item added to cart")
	return Result{Cart: saved, Changed: true}, nil
}

// SetItemQuantity заменяет количество товара. quantity <= 0 удаляет строку.
func (s *Service) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (Result, error) {
	if userID == "" {
		return Result{}, domain.ErrUserRequired
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return Result{}, domain.ErrItemNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load cart: %w", err)
	}

	idx := cart.IndexOf(productID)
	if idx < 0 {
		return Result{}, domain.ErrItemNotFound
	}

	if quantity <= 0 {
		cart.RemoveItem(productID)
	} else {
		if cart.Items[idx].Quantity == quantity {
			return Result{Cart: s.pricing.Reprice(cart), Changed: false}, nil
		}
		// Для строки, уже лежащей в корзине, проверяется только остаток:
		// снятый с продажи товар можно уменьшить до оформления.
		product, err := s.existingProduct(ctx, productID)
		if err != nil {
			return Result{}, err
		}
		if quantity > product.Stock {
			return Result{}, domain.ErrInsufficientStock
		}
		cart.Items[idx].Quantity = quantity
	}

	saved, err := s.persist(ctx, cart)
	if err != nil {
		return Result{}, err
	}
	return Result{Cart: saved, Changed: true}, nil
}

// RemoveItem удаляет строку товара. Повторный вызов — no-op с Changed=false.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (Result, error) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return Result{Cart: domain.Cart{UserID: userID}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load cart: %w", err)
	}

	if !cart.RemoveItem(productID) {
		return Result{Cart: s.pricing.Reprice(cart), Changed: false}, nil
	}

	saved, err := s.persist(ctx, cart)
	if err != nil {
		return Result{}, err
	}
	return Result{Cart: saved, Changed: true}, nil
}

// Clear удаляет корзину пользователя. Без корзины — no-op с Changed=false.
func (s *Service) Clear(ctx context.Context, userID string) (Result, error) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return Result{Cart: domain.Cart{UserID: userID}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load cart: %w", err)
	}

	if err := s.carts.Delete(ctx, cart.ID); err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return Result{Cart: domain.Cart{UserID: userID}}, nil
		}
		return Result{}, fmt.Errorf("delete cart: %w", err)
	}
	return Result{Cart: domain.Cart{UserID: userID}, Changed: true}, nil
}

// View возвращает корзину с пересчитанным итогом.
func (s *Service) View(ctx context.Context, userID string) (View, error) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return View{Cart: s.pricing.Reprice(domain.Cart{UserID: userID}), Empty: true}, nil
	}
	if err != nil {
		return View{}, fmt.Errorf("load cart: %w", err)
	}

	cart = s.pricing.Reprice(cart)
	return View{Cart: cart, Empty: cart.Empty()}, nil
}

func (s *Service) existingProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Product{}, domain.ErrProductUnavailable
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("load product: %w", err)
	}
	return product, nil
}

func (s *Service) availableProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.existingProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active() {
		return domain.Product{}, domain.ErrProductUnavailable
	}
	return product, nil
}

func (s *Service) loadOrNew(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{UserID: userID}, nil
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (s *Service) persist(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	cart = s.pricing.Reprice(cart)
	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("save cart: %w", err)
	}
	return s.pricing.Reprice(saved), nil
}
