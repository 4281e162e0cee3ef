// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/config"
	"github.com/your-org/storefront-cart/internal/interfaces/http/handlers"
	"github.com/your-org/storefront-cart/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-cart/internal/pkg/auth"
)

// Dependencies are the services routes are bound to
type Dependencies struct {
	Config    *config.Config
	Redis     *redis.Client
	JWT       *auth.JWTManager
	Cart      handlers.CartService
	Inventory handlers.InventoryService
	Log       logrus.FieldLogger
}

// SetupCartRoutes sets up the authenticated cart routes. Mutations accept an
// Idempotency-Key so client retries are applied once.
func SetupCartRoutes(rg *gin.RouterGroup, deps Dependencies) {
	cartHandler := handlers.NewCartHandler(deps.Cart)
	idempotent := middleware.Idempotency(deps.Redis, deps.Config.Cart.IdempotencyTTL, deps.Log)

	cart := rg.Group("/cart")
	cart.Use(middleware.AuthMiddleware(deps.JWT))
	cart.Use(middleware.RateLimit(deps.Redis, deps.Config.Security.RateLimitPerMinute, deps.Log))
	{
		cart.GET("", cartHandler.GetCart)
		cart.DELETE("", idempotent, cartHandler.ClearCart)
		cart.POST("/items", idempotent, cartHandler.AddItem)
		cart.PUT("/items/:productId/:size", idempotent, cartHandler.UpdateItem)
		cart.DELETE("/items/:productId/:size", idempotent, cartHandler.RemoveItem)
	}
}

// SetupCatalogRoutes sets up the public stock lookup routes
func SetupCatalogRoutes(rg *gin.RouterGroup, deps Dependencies) {
	inventoryHandler := handlers.NewInventoryHandler(deps.Inventory)

	catalog := rg.Group("/catalog")
	catalog.Use(middleware.RateLimit(deps.Redis, deps.Config.Security.RateLimitPerMinute, deps.Log))
	{
		catalog.GET("/stock", inventoryHandler.BatchStock)
		catalog.GET("/stock/:id", inventoryHandler.GetStock)
	}
}

// SetupAdminRoutes sets up stock maintenance routes
func SetupAdminRoutes(rg *gin.RouterGroup, deps Dependencies) {
	inventoryHandler := handlers.NewInventoryHandler(deps.Inventory)

	admin := rg.Group("/admin")
	admin.Use(middleware.AuthMiddleware(deps.JWT))
	admin.Use(middleware.AdminMiddleware())
	{
		admin.PUT("/stock/:id", inventoryHandler.SetStock)
		admin.POST("/stock/:id/repair", inventoryHandler.RepairStock)
	}
}

// SetupRoutes sets up all API routes
func SetupRoutes(rg *gin.RouterGroup, deps Dependencies) {
	SetupCartRoutes(rg, deps)
	SetupCatalogRoutes(rg, deps)
	SetupAdminRoutes(rg, deps)
}
