package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// writeError переводит доменную ошибку в HTTP-статус и тело ответа.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		shortfall   *domain.StockShortfallError
		notRecorded *domain.OrderNotRecordedError
		declined    *domain.PaymentDeclinedError
	)

	switch {
	case errors.As(err, &shortfall):
		c.JSON(http.StatusConflict, gin.H{
			"error":    err.Error(),
			"order_id": shortfall.OrderID,
		})
	case errors.As(err, &notRecorded):
		s.logger.WithError(err).WithField("payment_ref", notRecorded.PaymentReference).
			Error("order not recorded after payment")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":       domain.ErrOrderNotRecorded.Error(),
			"payment_ref": notRecorded.PaymentReference,
		})
	case errors.As(err, &declined):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":  err.Error(),
			"reason": declined.Reason,
		})
	case errors.Is(err, domain.ErrEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrCartAlreadyExists),
		errors.Is(err, domain.ErrOrderVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
