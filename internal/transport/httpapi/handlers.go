package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const maxListLimit = 500

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.services.Catalogue.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getProduct(c *gin.Context) {
	product, err := s.services.Catalogue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (s *Server) viewCart(c *gin.Context) {
	view, err := s.services.Carts.View(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := toCartResponse(view.Cart)
	resp.Empty = view.Empty
	c.JSON(http.StatusOK, resp)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	userID := c.Param("user_id")
	unlock := s.locks.lock(userID)
	defer unlock()

	result, err := s.services.Carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartMutationResponse{Changed: result.Changed, Cart: toCartResponse(result.Cart)})
}

func (s *Server) setCartItemQuantity(c *gin.Context) {
	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	userID := c.Param("user_id")
	unlock := s.locks.lock(userID)
	defer unlock()

	result, err := s.services.Carts.SetItemQuantity(c.Request.Context(), userID, c.Param("product_id"), req.Quantity)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartMutationResponse{Changed: result.Changed, Cart: toCartResponse(result.Cart)})
}

func (s *Server) removeCartItem(c *gin.Context) {
	userID := c.Param("user_id")
	unlock := s.locks.lock(userID)
	defer unlock()

	result, err := s.services.Carts.RemoveItem(c.Request.Context(), userID, c.Param("product_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartMutationResponse{Changed: result.Changed, Cart: toCartResponse(result.Cart)})
}

func (s *Server) clearCart(c *gin.Context) {
	userID := c.Param("user_id")
	unlock := s.locks.lock(userID)
	defer unlock()

	result, err := s.services.Carts.Clear(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartMutationResponse{Changed: result.Changed, Cart: toCartResponse(result.Cart)})
}

func (s *Server) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	userID := c.Param("user_id")
	unlock := s.locks.lock(userID)
	defer unlock()

	result, err := s.services.Checkout.Checkout(c.Request.Context(), checkout.Request{
		UserID: userID,
		Instrument: domain.PaymentInstrument{
			CardNumber: req.CardNumber,
			CardHolder: req.CardHolder,
			Expiry:     req.Expiry,
		},
		ShippingAddress: req.ShippingAddress,
		NotifyEmail:     req.NotifyEmail,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkoutResponse{
		OrderID:    result.OrderID,
		Total:      money(result.Total),
		PaymentRef: result.PaymentRef,
		Order:      toOrderResponse(result.Order),
	})
}

func (s *Server) listUserOrders(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	orders, err := s.services.Orders.ListByUser(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderList(orders))
}

func (s *Server) getOrder(c *gin.Context) {
	details, err := s.services.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := orderDetailsResponse{
		orderResponse: toOrderResponse(details.Order),
		Timeline:      make([]timelineEventResponse, 0, len(details.Timeline)),
	}
	for _, event := range details.Timeline {
		resp.Timeline = append(resp.Timeline, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listAllOrders(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	orders, err := s.services.Orders.ListAll(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderList(orders))
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	updated, err := s.services.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(updated))
}

func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.services.Orders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// parseLimit читает ?limit=; пустое значение — без ограничения.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
