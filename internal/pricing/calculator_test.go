package pricing_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
)

func TestCalculatorTotal(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.CartItem
		want  string
	}{
		{name: "empty", items: nil, want: "0.00"},
		{
			name: "single line",
			items: []domain.CartItem{
				{ProductID: "laptop", Quantity: 1, UnitPrice: decimal.RequireFromString("1200.00")},
			},
			want: "1200.00",
		},
		{
			name: "multiple lines",
			items: []domain.CartItem{
				{ProductID: "keyboard", Quantity: 3, UnitPrice: decimal.RequireFromString("85.50")},
				{ProductID: "monitor", Quantity: 2, UnitPrice: decimal.RequireFromString("350.00")},
			},
			want: "956.50",
		},
		{
			name: "half up rounding",
			items: []domain.CartItem{
				{ProductID: "a", Quantity: 1, UnitPrice: decimal.RequireFromString("0.005")},
			},
			want: "0.01",
		},
	}

	calc := pricing.NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calc.Total(tt.items).StringFixed(2))
		})
	}
}

func TestCalculatorDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	calc := pricing.NewCalculator()

	for i := 0; i < 50; i++ {
		items := make([]domain.CartItem, 0, 5)
		expected := decimal.Zero
		for j := 0; j < 1+rng.Intn(5); j++ {
			qty := 1 + rng.Intn(10)
			price := decimal.New(int64(rng.Intn(100000)), -2)
			items = append(items, domain.CartItem{ProductID: "p", Quantity: qty, UnitPrice: price})
			expected = expected.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}

		first := calc.Total(items)
		require.True(t, first.Equal(calc.Total(items)))
		require.True(t, expected.Round(2).Equal(first), "expected %s, got %s", expected, first)
	}
}

type flatDiscount struct{ amount decimal.Decimal }

func (d flatDiscount) Apply(_ []domain.CartItem, subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(d.amount)
}

func TestCalculatorPromotionHook(t *testing.T) {
	items := []domain.CartItem{{ProductID: "a", Quantity: 2, UnitPrice: decimal.NewFromInt(10)}}

	calc := pricing.NewCalculator(flatDiscount{amount: decimal.RequireFromString("5.5")})
	assert.Equal(t, "14.50", calc.Total(items).StringFixed(2))

	huge := pricing.NewCalculator(flatDiscount{amount: decimal.NewFromInt(100)})
	assert.True(t, huge.Total(items).IsZero(), "total must never be negative")
}

func TestCalculatorReprice(t *testing.T) {
	cart := domain.Cart{Items: []domain.CartItem{{ProductID: "a", Quantity: 4, UnitPrice: decimal.RequireFromString("2.25")}}}
	repriced := pricing.NewCalculator().Reprice(cart)
	assert.Equal(t, "9.00", repriced.Total.StringFixed(2))
}
