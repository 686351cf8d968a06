package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/pipeline"
	"caregraph/backend/internal/scoring"
	"caregraph/backend/internal/source"
	"caregraph/backend/pkg/config"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx := context.Background()
	repo, err := graph.Connect(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer repo.Close(context.Background())

	embedder, err := adapter.NewEmbedder(cfg)
	if err != nil {
		log.Fatal("Failed to create embedder", zap.Error(err))
	}
	defer embedder.Close()

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatal("Invalid reference date", zap.Error(err))
	}

	// Initialize dependencies
	scorer := scoring.NewScorer(repo, cfg.EligiblePayers, cfg.TopK)
	patients := pipeline.NewPatientService(repo, embedder, opts)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(log, scorer, patients)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func newRouter(log *zap.Logger, scorer *scoring.Scorer, patients *pipeline.PatientService) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		// Similar patients and eligibility score
		api.GET("/patients/:id/eligibility", func(c *gin.Context) {
			patientID := c.Param("id")

			k := 0
			if raw := c.Query("k"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed <= 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
					return
				}
				k = parsed
			}

			report, err := scorer.Score(c.Request.Context(), patientID, k)
			if err != nil {
				log.Error("Failed to score patient", zap.String("patient_id", patientID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to score patient"})
				return
			}
			if !report.HasEmbedding {
				c.JSON(http.StatusOK, gin.H{
					"patient_id":    patientID,
					"has_embedding": false,
					"message":       "no embedding",
				})
				return
			}

			c.JSON(http.StatusOK, report)
		})

		// Add a single patient
		api.POST("/patients", func(c *gin.Context) {
			var rec map[string]any
			if err := c.ShouldBindJSON(&rec); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if len(rec) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "empty patient record"})
				return
			}
			for col, v := range rec {
				switch v.(type) {
				case nil, string, float64, bool:
				default:
					c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("field %s must be a scalar", col)})
					return
				}
			}

			result, err := patients.Add(c.Request.Context(), source.Record(rec))
			if err != nil {
				status := http.StatusInternalServerError
				if apperrors.IsErrorType(err, apperrors.ErrorTypeInput) {
					status = http.StatusBadRequest
				}
				log.Error("Failed to add patient", zap.Error(err))
				c.JSON(status, gin.H{"error": "Failed to add patient"})
				return
			}

			c.JSON(http.StatusCreated, result)
		})
	}

	return router
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
