package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/config"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/handler"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/metrics"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/middleware"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/repository"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
	"github.com/Kunalrpawar/crowd-management-sub001/pkg/broadcast"
	"github.com/Kunalrpawar/crowd-management-sub001/pkg/db"
)

// stores bundles the three persistence interfaces; both backends satisfy all of them.
type stores interface {
	repository.ReportStore
	repository.EmergencyStore
	repository.FacilityStore
}

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Log)

	ctx := context.Background()

	// ── Storage ─────────────────────────────────────────
	var (
		store  stores
		pgPool *pgxpool.Pool
	)
	switch cfg.Store.Driver {
	case config.StoreMemory:
		store = repository.NewMemoryStore()
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pgPool, err = db.NewPostgresPool(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		defer pgPool.Close()

		if cfg.Postgres.AutoMigrate {
			if err := db.ApplyMigrations(ctx, cfg.Postgres, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}
		store = repository.NewPostgresStore(pgPool)
	}

	// ── Live-update channel ─────────────────────────────
	var (
		pub         handler.Broadcaster = broadcast.Discard{}
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		client, rp, err := broadcast.Dial(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()
		redisClient, pub = client, rp
	}

	// ── Route registry seed ─────────────────────────────
	seed, err := config.LoadSeed(cfg.Routes.SeedFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn().Str("path", cfg.Routes.SeedFile).Msg("route seed not found, starting with an empty registry")
		seed = &config.Seed{}
	case err != nil:
		logger.Fatal().Err(err).Str("path", cfg.Routes.SeedFile).Msg("failed to load route seed")
	}

	// ── Initialize layers ───────────────────────────────
	m := metrics.New()

	correlationSvc := service.NewCorrelationService(service.CorrelationConfig{
		Store:                store,
		Logger:               logger,
		Metrics:              m,
		MinScore:             cfg.Correlation.MinScore,
		PoolLimit:            cfg.Correlation.PoolLimit,
		ConfirmRetries:       cfg.Correlation.ConfirmRetries,
		ConfirmRetryInterval: cfg.Correlation.RetryInterval,
	})
	dispatchSvc := service.NewDispatchService(service.DispatchConfig{
		Emergencies:      store,
		Facilities:       store,
		Logger:           logger,
		Metrics:          m,
		DispatchRadiusKm: cfg.Dispatch.RadiusKm,
		NearbyRadiusKm:   cfg.Dispatch.NearbyRadiusKm,
	})
	routeSvc, err := service.NewRouteService(service.RouteConfig{
		Routes:           seed.Routes,
		Parking:          seed.Parking,
		ParvaniDayActive: seed.ParvaniDayActive,
		Logger:           logger,
		Metrics:          m,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid route seed")
	}
	logger.Info().
		Int("routes", len(seed.Routes)).
		Int("parking_zones", len(seed.Parking)).
		Bool("parvani_day", routeSvc.ParvaniDayActive()).
		Msg("route registry loaded")

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.Recoverer(logger), middleware.RequestLogger(logger), middleware.Metrics(m))

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if n := cfg.Server.RateLimitPerMin; n > 0 {
		api.Use(httprate.LimitByIP(n, time.Minute))
	}
	handler.NewReportHandler(correlationSvc, pub, logger).Register(api)
	handler.NewEmergencyHandler(dispatchSvc, pub, logger).Register(api)
	handler.NewRouteHandler(routeSvc, pub, logger).Register(api)

	// CORS wraps the router so preflight requests never hit route matching.
	root := middleware.CORS(cfg.Server.CORSAllowOrigins)(router)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", "crowdops").Logger()
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler checks PostgreSQL and Redis when they are configured.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if pgPool != nil {
			if err := db.HealthCheck(r.Context(), pgPool); err != nil {
				resp.Status = "degraded"
				resp.Services["postgres"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["postgres"] = "healthy"
			}
		}

		if redisClient != nil {
			if err := broadcast.HealthCheck(r.Context(), redisClient); err != nil {
				resp.Status = "degraded"
				resp.Services["redis"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["redis"] = "healthy"
			}
		}

		code := http.StatusOK
		if resp.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
