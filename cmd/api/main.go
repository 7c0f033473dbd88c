// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/inkseal/inkseal/internal/api"
	"github.com/inkseal/inkseal/internal/audit"
	"github.com/inkseal/inkseal/internal/auth"
	"github.com/inkseal/inkseal/internal/config"
	"github.com/inkseal/inkseal/internal/db"
	"github.com/inkseal/inkseal/internal/health"
	"github.com/inkseal/inkseal/internal/middleware"
	"github.com/inkseal/inkseal/internal/signing"
	"github.com/inkseal/inkseal/internal/storage"
	"github.com/inkseal/inkseal/internal/tracing"
)

const serviceName = "inkseal-api"

type limiterFunc func(http.Handler) http.Handler

// newMux wires the route table. Signer reads and writes get separate rate
// limits; everything under /documents/ is the staff surface.
func newMux(signHandlers *api.SignHandlers, adminHandlers *api.AdminHandlers, healthHandlers *api.HealthHandlers, registry *prometheus.Registry, readLimiter, writeLimiter limiterFunc, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/sign", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeLimiter(http.HandlerFunc(signHandlers.Sign)).ServeHTTP(w, r)
			return
		}
		readLimiter(http.HandlerFunc(signHandlers.Sign)).ServeHTTP(w, r)
	}))
	mux.Handle("/sign/decline", writeLimiter(http.HandlerFunc(signHandlers.Decline)))
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			adminHandlers.Void(w, r)
		case http.MethodGet:
			adminHandlers.AuditTrail(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	})
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"inkseal-api","version":"0.0.1"}`)); err != nil {
			logger.Error("failed to write response", "error", err)
		}
	})

	return mux
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Inkseal API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-" + cfg.OTLPProtocol,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage and audit backends. Postgres when DATABASE_URL is set,
	// in-memory otherwise (local development).
	var (
		store    signing.Store
		auditLog audit.Repository
		pool     *sql.DB
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := pool.Close(); closeErr != nil {
				logger.Error("failed to close database", "error", closeErr)
			}
		}()

		store = signing.NewPostgresStore(pool, logger)
		auditLog = audit.NewPostgresRepository(pool)
		logger.Info("using postgres store")
	} else {
		store = signing.NewMemoryStore()
		auditLog = audit.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	recorder, err := audit.NewRecorder(auditLog, logger)
	if err != nil {
		logger.Error("failed to create audit recorder", "error", err)
		os.Exit(1)
	}

	// Signed download URLs for source files. Optional.
	var urlSigner signing.URLSigner
	if cfg.StorageBucketName != "" {
		storageSvc, storageErr := storage.NewService(storage.ServiceConfig{
			BucketName:      cfg.StorageBucketName,
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretAccessKey,
			Endpoint:        cfg.StorageEndpoint,
			URLExpiry:       time.Duration(cfg.StorageURLTTLMinutes) * time.Minute,
		})
		if storageErr != nil {
			logger.Error("failed to create storage service", "error", storageErr)
			os.Exit(1)
		}
		urlSigner = storageSvc
	} else {
		logger.Warn("object storage not configured, signed download URLs disabled")
	}

	svc := signing.NewService(store, recorder, urlSigner, logger)

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	// Metrics
	metrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Rate limit store. Redis when configured, in-memory otherwise.
	var (
		limitStore  middleware.RateLimitStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				logger.Error("failed to close redis client", "error", closeErr)
			}
		}()
		limitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(metrics)
		logger.Info("using redis rate limit store", "addr", cfg.RedisAddr)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		limitStore = memStore
		logger.Info("using in-memory rate limit store")
	}

	readLimit := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.SignReadLimit,
		WindowDuration:    time.Minute,
	}
	writeLimit := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.SignWriteLimit,
		WindowDuration:    time.Minute,
	}

	signHandlers := api.NewSignHandlers(svc)
	adminHandlers := api.NewAdminHandlers(svc, auditLog, jwtService)

	checkers := map[string]api.Checker{}
	if pool != nil {
		checkers["database"] = health.NewDBChecker(pool)
	}
	if redisClient != nil {
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(checkers, logger)

	readLimiter := middleware.InstrumentedRateLimiter(limitStore, readLimit, middleware.ScopedKeyFunc("sign:read", middleware.SignerKeyFunc()), metrics, "/sign")
	writeLimiter := middleware.InstrumentedRateLimiter(limitStore, writeLimit, middleware.ScopedKeyFunc("sign:write", middleware.SignerKeyFunc()), metrics, "/sign")

	mux := newMux(signHandlers, adminHandlers, healthHandlers, registry, readLimiter, writeLimiter, logger)

	// Middleware chain, outermost first:
	// CorrelationID -> Tracing -> HTTPMetrics -> Logging -> CORS
	var handler http.Handler = mux
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins))(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(metrics)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing(serviceName)(handler)
	}
	handler = middleware.CorrelationID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer provider", "error", err)
	}

	logger.Info("server stopped")
}
