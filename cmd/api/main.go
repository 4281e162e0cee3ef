// cmd/api/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/storefront-cart/internal/config"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"github.com/your-org/storefront-cart/internal/infrastructure/database/postgres"
	"github.com/your-org/storefront-cart/internal/infrastructure/database/redis"
	"github.com/your-org/storefront-cart/internal/interfaces/http"
	"github.com/your-org/storefront-cart/internal/interfaces/http/routes"
	"github.com/your-org/storefront-cart/internal/pkg/auth"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logr := logger.New(cfg)
	logr.WithFields(map[string]interface{}{
		"app":         cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	}).Info("Starting cart service")

	db, err := postgres.NewConnection(cfg, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisClient, err := redis.NewConnection(cfg, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(healthCtx); err != nil {
		logr.WithError(err).Fatal("Database health check failed")
	}
	cancel()

	migration := postgres.NewMigration(db.GetDB(), logr)
	if err := migration.RunAutoMigrations(); err != nil {
		logr.WithError(err).Fatal("Database migration failed")
	}
	if err := migration.CreateIndexes(); err != nil {
		logr.WithError(err).Warn("Index creation failed")
	}

	if cfg.IsDevelopment() {
		if err := migration.SeedInitialData(); err != nil {
			logr.WithError(err).Warn("Data seeding failed")
		}
		_ = migration.GetTableInfo()
	}

	inventoryService := inventory.NewService(db.GetDB(), logr.WithField("component", "inventory"))
	cartService := cart.NewService(db.GetDB(), inventoryService, logr.WithField("component", "cart_service"))

	server := http.NewServer(routes.Dependencies{
		Config:    cfg,
		Redis:     redisClient.Redis,
		JWT:       auth.NewJWTManager(cfg),
		Cart:      cartService,
		Inventory: inventoryService,
		Log:       logr,
	}, db.GetDB())

	go func() {
		if err := server.Start(); err != nil {
			logr.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logr.Info("Shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logr.WithError(err).Error("Failed to shutdown HTTP server gracefully")
	}

	logr.Info("Server shutdown completed")
}
