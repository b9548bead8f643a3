package cart_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type CartServiceSuite struct {
	suite.Suite

	ctx      context.Context
	products domain.ProductRepository
	carts    domain.CartRepository
	svc      *cart.Service

	laptop   domain.Product
	keyboard domain.Product
	monitor  domain.Product
	hidden   domain.Product
}

func TestCartServiceSuite(t *testing.T) {
	suite.Run(t, new(CartServiceSuite))
}

func (s *CartServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.products = memory.NewProductRepository()
	s.carts = memory.NewCartRepository()
	s.svc = cart.NewService(s.carts, s.products, pricing.NewCalculator(), nil)

	s.laptop = s.mustProduct("Laptop", "1200.00", 5, domain.ProductStatusActive)
	s.keyboard = s.mustProduct("Keyboard", "85.50", 0, domain.ProductStatusActive)
	s.monitor = s.mustProduct("Monitor", "350.00", 10, domain.ProductStatusActive)
	s.hidden = s.mustProduct("Tablet", "99.99", 10, domain.ProductStatusInactive)
}

func (s *CartServiceSuite) mustProduct(name, price string, stock int, status domain.ProductStatus) domain.Product {
	product, err := s.products.Upsert(s.ctx, domain.Product{
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Stock:     stock,
		Status:    status,
	})
	s.Require().NoError(err)
	return product
}

func (s *CartServiceSuite) TestAddItemCreatesCartLazily() {
	view, err := s.svc.View(s.ctx, "user-1")
	s.Require().NoError(err)
	s.True(view.Empty)
	s.True(view.Cart.Total.IsZero())

	res, err := s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 2)
	s.Require().NoError(err)
	s.True(res.Changed)
	s.NotEmpty(res.Cart.ID)
	s.Equal("2400.00", res.Cart.Total.StringFixed(2))

	res, err = s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 1)
	s.Require().NoError(err)
	s.Len(res.Cart.Items, 1, "same product must merge into one line")
	s.Equal(3, res.Cart.Items[0].Quantity)
}

func (s *CartServiceSuite) TestAddItemValidation() {
	_, err := s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 0)
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.svc.AddItem(s.ctx, "", s.laptop.ID, 1)
	s.ErrorIs(err, domain.ErrUserRequired)

	_, err = s.svc.AddItem(s.ctx, "user-1", "missing", 1)
	s.ErrorIs(err, domain.ErrProductUnavailable)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.hidden.ID, 1)
	s.ErrorIs(err, domain.ErrProductUnavailable)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.keyboard.ID, 1)
	s.ErrorIs(err, domain.ErrInsufficientStock)
}

func (s *CartServiceSuite) TestAddItemChecksQuantityAlreadyInCart() {
	_, err := s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 4)
	s.Require().NoError(err)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 2)
	s.ErrorIs(err, domain.ErrInsufficientStock)

	view, err := s.svc.View(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(4, view.Cart.QuantityOf(s.laptop.ID))
}

func (s *CartServiceSuite) TestCapturedPriceSurvivesCatalogueChange() {
	_, err := s.svc.AddItem(s.ctx, "user-1", s.monitor.ID, 1)
	s.Require().NoError(err)

	s.monitor.UnitPrice = decimal.RequireFromString("999.00")
	_, err = s.products.Upsert(s.ctx, s.monitor)
	s.Require().NoError(err)

	view, err := s.svc.View(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Equal("350.00", view.Cart.Total.StringFixed(2))
}

func (s *CartServiceSuite) TestSetItemQuantity() {
	_, err := s.svc.SetItemQuantity(s.ctx, "user-1", s.laptop.ID, 1)
	s.ErrorIs(err, domain.ErrItemNotFound)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 1)
	s.Require().NoError(err)

	_, err = s.svc.SetItemQuantity(s.ctx, "user-1", s.monitor.ID, 1)
	s.ErrorIs(err, domain.ErrItemNotFound)

	res, err := s.svc.SetItemQuantity(s.ctx, "user-1", s.laptop.ID, 5)
	s.Require().NoError(err)
	s.True(res.Changed)
	s.Equal("6000.00", res.Cart.Total.StringFixed(2))

	_, err = s.svc.SetItemQuantity(s.ctx, "user-1", s.laptop.ID, 6)
	s.ErrorIs(err, domain.ErrInsufficientStock)

	res, err = s.svc.SetItemQuantity(s.ctx, "user-1", s.laptop.ID, 5)
	s.Require().NoError(err)
	s.False(res.Changed)

	res, err = s.svc.SetItemQuantity(s.ctx, "user-1", s.laptop.ID, 0)
	s.Require().NoError(err)
	s.True(res.Changed)
	s.True(res.Cart.Empty())
	s.True(res.Cart.Total.IsZero())
}

func (s *CartServiceSuite) TestSetItemQuantityForDelistedProductChecksStockOnly() {
	_, err := s.svc.AddItem(s.ctx, "user-1", s.monitor.ID, 3)
	s.Require().NoError(err)

	delisted := s.monitor
	delisted.Status = domain.ProductStatusInactive
	_, err = s.products.Upsert(s.ctx, delisted)
	s.Require().NoError(err)

	res, err := s.svc.SetItemQuantity(s.ctx, "user-1", s.monitor.ID, 2)
	s.Require().NoError(err)
	s.True(res.Changed)
	s.Equal("700.00", res.Cart.Total.StringFixed(2))

	_, err = s.svc.SetItemQuantity(s.ctx, "user-1", s.monitor.ID, 11)
	s.ErrorIs(err, domain.ErrInsufficientStock)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.monitor.ID, 1)
	s.ErrorIs(err, domain.ErrProductUnavailable)
}

func (s *CartServiceSuite) TestRemoveItemTwiceIsNoop() {
	_, err := s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 1)
	s.Require().NoError(err)
	_, err = s.svc.AddItem(s.ctx, "user-1", s.monitor.ID, 2)
	s.Require().NoError(err)

	first, err := s.svc.RemoveItem(s.ctx, "user-1", s.laptop.ID)
	s.Require().NoError(err)
	s.True(first.Changed)
	s.Equal("700.00", first.Cart.Total.StringFixed(2))

	second, err := s.svc.RemoveItem(s.ctx, "user-1", s.laptop.ID)
	s.Require().NoError(err)
	s.False(second.Changed)

	none, err := s.svc.RemoveItem(s.ctx, "nobody", s.laptop.ID)
	s.Require().NoError(err)
	s.False(none.Changed)
}

func (s *CartServiceSuite) TestClear() {
	res, err := s.svc.Clear(s.ctx, "user-1")
	s.Require().NoError(err)
	s.False(res.Changed)

	_, err = s.svc.AddItem(s.ctx, "user-1", s.laptop.ID, 1)
	s.Require().NoError(err)

	res, err = s.svc.Clear(s.ctx, "user-1")
	s.Require().NoError(err)
	s.True(res.Changed)

	_, err = s.carts.GetByUser(s.ctx, "user-1")
	s.ErrorIs(err, domain.ErrCartNotFound)

	view, err := s.svc.View(s.ctx, "user-1")
	s.Require().NoError(err)
	s.True(view.Empty)
}

// Итог корзины после любой последовательности операций равен сумме строк с округлением.
func (s *CartServiceSuite) TestTotalMatchesLinesForRandomSequences() {
	rng := rand.New(rand.NewSource(42))
	products := []domain.Product{s.laptop, s.monitor}

	for round := 0; round < 20; round++ {
		userID := "property-user"
		_, err := s.svc.Clear(s.ctx, userID)
		s.Require().NoError(err)

		for step := 0; step < 30; step++ {
			product := products[rng.Intn(len(products))]
			switch rng.Intn(3) {
			case 0:
				_, _ = s.svc.AddItem(s.ctx, userID, product.ID, 1+rng.Intn(3))
			case 1:
				_, _ = s.svc.SetItemQuantity(s.ctx, userID, product.ID, rng.Intn(6)-1)
			case 2:
				_, err = s.svc.RemoveItem(s.ctx, userID, product.ID)
				s.Require().NoError(err)
			}

			view, err := s.svc.View(s.ctx, userID)
			s.Require().NoError(err)

			expected := decimal.Zero
			for _, item := range view.Cart.Items {
				s.Greater(item.Quantity, 0)
				expected = expected.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			}
			s.True(expected.Round(2).Equal(view.Cart.Total), "expected %s, got %s", expected, view.Cart.Total)
		}
	}
}
