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

	"github.com/insightflow/ml-studio-backend/config"
	"github.com/insightflow/ml-studio-backend/gateway"
	"github.com/insightflow/ml-studio-backend/h2o"
	"github.com/insightflow/ml-studio-backend/handlers"
	"github.com/insightflow/ml-studio-backend/middleware"
	"github.com/insightflow/ml-studio-backend/monitor"
	"github.com/insightflow/ml-studio-backend/orchestrator"
	"github.com/insightflow/ml-studio-backend/repository"
	"github.com/insightflow/ml-studio-backend/simulator"
	"github.com/insightflow/ml-studio-backend/storage"
)

func main() {
	log.Println("Starting ML Studio Backend (AutoML Training Orchestrator)")

	// Initialize configuration
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	defer cfg.Close()

	// Object storage
	minioClient, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %v", err)
	}

	// Wiring: repository, dataset store, engine client, orchestrator, gateway
	repo := repository.NewRepository(cfg.DB)
	datasets := storage.NewDatasetStore(repo, minioClient, cfg.DatasetBucket)
	engine := h2o.NewClient(cfg.H2OBaseURL)
	orch := orchestrator.NewOrchestrator(repo, engine, datasets, simulator.New())
	gw := gateway.NewGateway(repo, engine, minioClient, cfg.ExportBucket, cfg.PublicBaseURL)

	// Reap jobs orphaned by restarts
	jobMonitor := monitor.NewJobMonitor(repo, orch)
	jobMonitor.Start()

	// Initialize handlers
	handler := handlers.NewHandler(repo, orch, gw, datasets)

	// Setup Gin router
	router := gin.Default()

	// Enable CORS (must be first)
	router.Use(middleware.CORSMiddleware())

	// Extract caller identity from headers
	router.Use(middleware.AuthMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
			"user":   middleware.GetUserID(c),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		ml := api.Group("/ml")
		{
			ml.POST("/train", handler.StartTraining)
			ml.GET("/jobs", handler.ListJobs)
			ml.GET("/jobs/:id", handler.GetJob)
			ml.DELETE("/jobs/:id", handler.DeleteJob)
			ml.GET("/models", handler.ListModels)
			ml.GET("/models/:id", handler.GetModel)
			ml.DELETE("/models/:id", handler.DeleteModel)
			ml.POST("/models/:id/predict", handler.Predict)
			ml.POST("/models/:id/export", handler.ExportModel)
			ml.POST("/models/:id/deploy", handler.DeployModel)
		}

		api.POST("/datasets/upload", handler.UploadDataset)
		api.GET("/datasets", handler.ListDatasets)
	}

	// Create HTTP server with proper configuration
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with 10-second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	jobMonitor.Stop()
	orch.Stop()
	cfg.Close()
	log.Println("Server stopped gracefully")
}
