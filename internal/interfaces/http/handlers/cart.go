// internal/interfaces/http/handlers/cart.go
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/interfaces/http/middleware"
)

// CartService is the server-side cart the handler drives
type CartService interface {
	Get(ctx context.Context, userID uint) (cart.RemoteCart, error)
	AddItem(ctx context.Context, userID uint, item cart.CartItem) (cart.RemoteCart, error)
	UpdateQuantity(ctx context.Context, userID uint, key cart.Key, quantity int) (cart.RemoteCart, error)
	RemoveItem(ctx context.Context, userID uint, key cart.Key) (cart.RemoteCart, error)
	Clear(ctx context.Context, userID uint) (cart.RemoteCart, error)
}

// CartHandler handles cart endpoints
type CartHandler struct {
	cartService CartService
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cartService CartService) *CartHandler {
	return &CartHandler{cartService: cartService}
}

// GetCart handles GET /cart
func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	remote, err := h.cartService.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, remote)
}

// AddItem handles POST /cart/items
func (h *CartHandler) AddItem(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	var req cart.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	remote, err := h.cartService.AddItem(c.Request.Context(), userID, req.Item())
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, remote)
}

// UpdateItem handles PUT /cart/items/:productId/:size
func (h *CartHandler) UpdateItem(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	var req cart.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	remote, err := h.cartService.UpdateQuantity(c.Request.Context(), userID, itemKey(c), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, remote)
}

// RemoveItem handles DELETE /cart/items/:productId/:size
func (h *CartHandler) RemoveItem(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	remote, err := h.cartService.RemoveItem(c.Request.Context(), userID, itemKey(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, remote)
}

// ClearCart handles DELETE /cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}

	remote, err := h.cartService.Clear(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, remote)
}

func (h *CartHandler) user(c *gin.Context) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, "Authentication required", false)
	}
	return userID, ok
}

// itemKey reads the line key; color is optional and travels as a query parameter
func itemKey(c *gin.Context) cart.Key {
	return cart.Key{
		ProductID: c.Param("productId"),
		Size:      c.Param("size"),
		Color:     c.Query("color"),
	}
}
