package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

func respondMessage(c *gin.Context, status int, message string, retryable bool) {
	c.JSON(status, gin.H{
		"error":     message,
		"retryable": retryable,
	})
}

// respondError maps domain errors onto status codes. The retryable flag lets
// the client decide whether to keep its optimistic state.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	if errors.Is(err, inventory.ErrProductNotFound) {
		respondMessage(c, http.StatusNotFound, err.Error(), false)
		return
	}
	if errors.Is(err, inventory.ErrNoSizes) || errors.Is(err, inventory.ErrDuplicateSize) {
		respondMessage(c, http.StatusBadRequest, err.Error(), false)
		return
	}

	var cartErr *cart.Error
	if !errors.As(err, &cartErr) {
		respondMessage(c, http.StatusInternalServerError, "Internal server error", true)
		return
	}

	message := cartErr.Error()
	if cartErr.Err != nil {
		message = cartErr.Err.Error()
	}

	switch cartErr.Kind {
	case cart.KindValidation:
		respondMessage(c, http.StatusBadRequest, message, cartErr.Retryable)
	case cart.KindNotFound:
		respondMessage(c, http.StatusNotFound, message, cartErr.Retryable)
	case cart.KindConflict, cart.KindStaleData:
		respondMessage(c, http.StatusConflict, message, cartErr.Retryable)
	case cart.KindTransient:
		respondMessage(c, http.StatusServiceUnavailable, "Service temporarily unavailable", cartErr.Retryable)
	default:
		respondMessage(c, http.StatusInternalServerError, "Failed to update cart", cartErr.Retryable)
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     "Invalid request data",
		"details":   err.Error(),
		"retryable": false,
	})
}
