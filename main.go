package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"exam-service/internal/config"
	"exam-service/internal/db"
	"exam-service/internal/event"
	"exam-service/internal/handlers"
	"exam-service/internal/repository"
	"exam-service/internal/service"
	"exam-service/internal/sweep"
	"exam-service/pkg/discovery"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/evolvia", "log", "exam_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.ServiceConfig

	db.InitMongo(cfg.MongoDB)
	db.InitRedis(cfg.Redis)

	// Repositories over the shared database handle
	questionRepo := repository.NewQuestionRepository(db.Database)
	templateRepo := repository.NewTemplateRepository(db.Database)
	attemptRepo := repository.NewAttemptRepository(db.Database)
	answerRepo := repository.NewAnswerRepository(db.Database)
	poolCache := repository.NewPoolCache(db.Redis)

	// Create database indexes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := questionRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create question indexes: %v", err)
	}
	if err := attemptRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create attempt indexes: %v", err)
	}
	if err := answerRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create answer indexes: %v", err)
	}
	cancel()

	// Event publisher; without a broker URI attempts still run, events are
	// just not published
	var publisher event.Publisher
	eventPublisher, err := event.NewEventPublisher(cfg.RabbitMQ.URI, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
	} else {
		publisher = eventPublisher
	}

	// Attempt engine service and handler
	attemptService := service.NewAttemptService(
		attemptRepo,
		answerRepo,
		questionRepo,
		templateRepo,
		poolCache,
		publisher,
		cfg.Engine,
	)
	attemptHandler := handlers.NewAttemptHandler(attemptService)

	// Background sweeper for abandoned attempts
	sweeper := sweep.NewSweeper(attemptService, cfg.Engine.SweepInterval, 100)
	sweeper.Start()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "https://evolvia.phrimp.io.vn"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "accept", "origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check for Consul
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected routes; the gateway authenticates and forwards the user id
	protectedExam := r.Group("/protected/exam")
	protectedExam.Use(func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "MISSING_USER_ID",
			})
			c.Abort()
			return
		}
		c.Next()
	})

	attempts := protectedExam.Group("/attempts")
	{
		attempts.POST("/", attemptHandler.StartAttempt)
		attempts.GET("/", attemptHandler.ListAttempts)
		attempts.GET("/:attemptId", attemptHandler.GetAttempt)
		attempts.POST("/:attemptId/answers", attemptHandler.SubmitAnswer)
		attempts.GET("/:attemptId/answers", attemptHandler.ListAnswers)
		attempts.POST("/:attemptId/finish", attemptHandler.FinishAttempt)
	}

	templates := protectedExam.Group("/templates")
	{
		templates.GET("/:templateId/pool", attemptHandler.TemplatePool)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	// Stop the sweeper before closing its stores
	sweeper.Close()

	// Close event publisher
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	// Disconnect storage
	db.DisconnectMongo()
	db.CloseRedis()

	// Deregister from service discovery
	if discovery.ServiceDiscovery != nil {
		if err := discovery.ServiceDiscovery.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	<-doneChan
	log.Println("Server shutdown complete")
}
