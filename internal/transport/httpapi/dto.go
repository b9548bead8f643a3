package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Денежные суммы отдаются строкой с двумя знаками после запятой.
func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

type productResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Stock     int    `json:"stock"`
	Status    string `json:"status"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		Name:      p.Name,
		UnitPrice: money(p.UnitPrice),
		Stock:     p.Stock,
		Status:    string(p.Status),
	}
}

type cartItemResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type cartResponse struct {
	ID     string             `json:"id,omitempty"`
	UserID string             `json:"user_id"`
	Items  []cartItemResponse `json:"items"`
	Total  string             `json:"total"`
	Empty  bool               `json:"empty"`
}

func toCartResponse(cart domain.Cart) cartResponse {
	resp := cartResponse{
		ID:     cart.ID,
		UserID: cart.UserID,
		Items:  make([]cartItemResponse, 0, len(cart.Items)),
		Total:  money(cart.Total),
		Empty:  cart.Empty(),
	}
	for _, item := range cart.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
			Subtotal:  money(domain.LineSubtotal(item.Quantity, item.UnitPrice)),
		})
	}
	return resp
}

type cartMutationResponse struct {
	Changed bool         `json:"changed"`
	Cart    cartResponse `json:"cart"`
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Items           []orderItemResponse `json:"items"`
	TotalPaid       string              `json:"total_paid"`
	ShippingAddress string              `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentRef      string              `json:"payment_ref"`
	Status          string              `json:"status"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           make([]orderItemResponse, 0, len(o.Items)),
		TotalPaid:       money(o.TotalPaid),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentRef:      o.PaymentRef,
		Status:          string(o.Status),
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			Subtotal:    money(item.Subtotal()),
		})
	}
	return resp
}

func toOrderList(orders []domain.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	return resp
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderDetailsResponse struct {
	orderResponse
	Timeline []timelineEventResponse `json:"timeline"`
}

type checkoutResponse struct {
	OrderID    string        `json:"order_id"`
	Total      string        `json:"total"`
	PaymentRef string        `json:"payment_ref"`
	Order      orderResponse `json:"order"`
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type checkoutRequest struct {
	CardNumber      string `json:"card_number"`
	CardHolder      string `json:"card_holder"`
	Expiry          string `json:"expiry"`
	ShippingAddress string `json:"shipping_address"`
	NotifyEmail     string `json:"notify_email"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
