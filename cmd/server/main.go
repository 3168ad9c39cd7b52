package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/nathanyu/bank-transfer/internal/auth"
	"github.com/nathanyu/bank-transfer/internal/config"
	"github.com/nathanyu/bank-transfer/internal/events"
	"github.com/nathanyu/bank-transfer/internal/handler"
	"github.com/nathanyu/bank-transfer/internal/identity"
	"github.com/nathanyu/bank-transfer/internal/ledger"
	"github.com/nathanyu/bank-transfer/internal/middleware"
	"github.com/nathanyu/bank-transfer/internal/repository"
	"github.com/nathanyu/bank-transfer/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "bank-transfer"

func main() {
	cfg := config.Load()

	// Initialize structured logging
	telemetry.InitLogger(serviceName)

	// Initialize OpenTelemetry tracing
	cleanup, err := telemetry.InitTracer(serviceName)
	if err != nil {
		log.Printf("Warning: Failed to initialize tracer: %v", err)
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)

	log.Println("Starting transfer service...")

	// 1. Build the account and user stores
	accounts, users, closeStores, err := buildStores(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStores()
	log.Printf("Store backend: %s", cfg.StoreBackend)

	// 2. Connect the transfer event publisher, if configured
	var notifier ledger.Notifier
	if cfg.NATSUrl != "" {
		publisher, err := events.NewPublisher(cfg.NATSUrl)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
		notifier = publisher
		log.Printf("Publishing transfer events to %s", cfg.NATSUrl)
	}

	// 3. Wire the core
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	coordinator := ledger.NewCoordinator(accounts, notifier, ledger.Config{
		MaxRetries:    cfg.TransferMaxRetries,
		CommitTimeout: cfg.CommitTimeout,
	})
	identitySvc := identity.NewService(users, accounts, tokens, cfg.SeedMinCents, cfg.SeedMaxCents)

	// 4. Setup Gin router with middleware
	h := handler.NewHandler(identitySvc, coordinator, accounts)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	handler.SetupRoutes(router, h, tokens)

	// 5. Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 6. Start metrics server (separate port for Prometheus scraping)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		log.Printf("HTTP server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Metrics server listening on port %d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}

	log.Println("Service stopped")
}

// buildStores constructs the configured backend. The returned close function
// releases whatever the backend holds open (journal file or DB pool).
func buildStores(cfg *config.Config) (repository.AccountStore, repository.UserStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := repository.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			return nil, nil, nil, err
		}

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, err
		}

		return repository.NewPostgresStore(db), repository.NewPostgresUserStore(db),
			func() { db.Close() }, nil

	case config.BackendMemory:
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0755); err != nil {
			return nil, nil, nil, err
		}
		journal, err := repository.OpenJournal(cfg.JournalPath)
		if err != nil {
			return nil, nil, nil, err
		}

		accounts, err := repository.NewMemoryStore(journal)
		if err != nil {
			journal.Close()
			return nil, nil, nil, err
		}

		return accounts, repository.NewMemoryUserStore(),
			func() { journal.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
