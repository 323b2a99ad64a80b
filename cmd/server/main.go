package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/adtrack/internal/api"
	"github.com/ignite/adtrack/internal/config"
	"github.com/ignite/adtrack/internal/ingest"
	"github.com/ignite/adtrack/internal/pkg/distlock"
	"github.com/ignite/adtrack/internal/realtime"
	"github.com/ignite/adtrack/internal/repository/postgres"
	"github.com/ignite/adtrack/internal/service/events"
	"github.com/ignite/adtrack/internal/service/integrity"
	"github.com/ignite/adtrack/internal/service/replay"
	"github.com/ignite/adtrack/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("AdTrack event store server (cmd/server)")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Postgres
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to PostgreSQL")

	// Redis is optional: without it, replay locks fall back to Postgres
	// advisory locks and realtime fan-out is disabled.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable (%v) — continuing without it", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
		cancel()
	}

	// Repositories
	eventRepo := postgres.NewEventRepo(db)
	metricsRepo := postgres.NewMetricsRepo(db)

	// Services
	var pub events.Publisher
	if redisClient != nil {
		pub = realtime.NewPublisher(redisClient)
	}
	eventService := events.New(eventRepo, pub)
	engine := replay.NewEngine(eventRepo, metricsRepo, distlock.New(redisClient, db), cfg.Replay.LockTTL())
	validator := integrity.New(eventRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background replay scheduler
	var scheduler *worker.ReplayScheduler
	if cfg.Replay.SchedulerEnabled {
		scheduler = worker.NewReplayScheduler(eventRepo, engine, worker.ReplaySchedulerConfig{
			Interval: cfg.Replay.Interval(),
		})
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("Failed to start replay scheduler: %v", err)
		}
		log.Printf("Replay scheduler started (interval %s)", cfg.Replay.Interval())
	}

	// SQS ingest
	var consumer *ingest.Consumer
	if cfg.Ingest.Enabled && cfg.Ingest.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Ingest.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		consumer = ingest.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Ingest.QueueURL, eventService)
		consumer.Start(ctx)
		log.Printf("SQS ingest consumer started on %s", cfg.Ingest.QueueURL)
	}

	// HTTP server
	handlers := api.NewHandlers(eventService, engine, validator, metricsRepo)
	var schedulerStatus api.WorkerStatus
	if scheduler != nil {
		schedulerStatus = scheduler
	}
	healthChecker := api.NewHealthChecker(db, redisClient, schedulerStatus)
	router := api.SetupRoutes(handlers, healthChecker)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
