package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/studioflow/backend/internal/application/services"
	"github.com/studioflow/backend/internal/bootstrap"
	"github.com/studioflow/backend/internal/infrastructure/database"
	"github.com/studioflow/backend/internal/infrastructure/persistence"
	"github.com/studioflow/backend/internal/interfaces/middleware"
	"github.com/studioflow/backend/internal/interfaces/rest"
	"github.com/studioflow/backend/pkg/config"
)

func main() {
	cfg := config.Load()

	// Initialize database connection
	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	if err := persistence.EnsureSchema(context.Background(), db.DB()); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize service manager
	svcMgr, err := services.NewServiceManager(db, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	log.Println("🔧 Service manager initialized")

	// Seed default workflows and starter triggers (no-op when data exists)
	if err := bootstrap.InitializeDefaults(context.Background(), svcMgr, cfg.AdminRole); err != nil {
		log.Printf("⚠️  Warning: Failed to initialize defaults: %v", err)
	}

	// Create Gin router
	router := gin.Default()

	// CORS middleware - Allow credentials from any origin
	router.Use(middleware.Cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	rest.RegisterRoutes(router, svcMgr, cfg.JWTSecret)

	// Start background sweeps (delivery retries, auto-approve, reminders)
	if err := svcMgr.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Println("⏰ Scheduler service started")

	// Start server
	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 StudioFlow Automation Core Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", cfg.Port)
	log.Printf("📋 Workflow API:   http://localhost:%s/api/workflows", cfg.Port)
	log.Printf("✅ Approval API:   http://localhost:%s/api/approvals", cfg.Port)
	log.Printf("⚡ Trigger API:    http://localhost:%s/api/triggers", cfg.Port)
	log.Printf("📤 Delivery API:   http://localhost:%s/api/deliveries", cfg.Port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", cfg.Port)

	// Create HTTP Server
	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background sweeps and drain NATS
	svcMgr.Stop()
	log.Println("🛑 Scheduler stopped")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
