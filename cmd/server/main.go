package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-passenger/internal/auth"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/config"
	"github.com/example/ride-passenger/internal/diagnostics"
	"github.com/example/ride-passenger/internal/eta"
	"github.com/example/ride-passenger/internal/fare"
	"github.com/example/ride-passenger/internal/geo"
	httpapi "github.com/example/ride-passenger/internal/http"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/maps"
	"github.com/example/ride-passenger/internal/payments"
	"github.com/example/ride-passenger/internal/push"
	"github.com/example/ride-passenger/internal/realtime"
	"github.com/example/ride-passenger/internal/storage"
	"github.com/example/ride-passenger/internal/tracking"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}
	for _, f := range cfg.Disabled() {
		logger.Warn("feature_disabled", "feature", f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	defer hub.Close()

	store, err := openStore(ctx, cfg, hub, logger)
	if err != nil {
		logger.Error("store unavailable", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	var (
		rc        *redis.Client
		locations backend.LocationCache
		limiter   httpapi.Limiter
	)
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		locations = geo.NewRedisLocationsFromClient(rc, cfg.RedisGeoKey)
		limiter = httpapi.NewRedisLimiter(rc, cfg.RateLimitPerMinute, time.Minute)
	} else {
		limiter = httpapi.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	if len(cfg.KafkaBrokers) > 0 {
		src := realtime.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, hub, logger)
		go func() {
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka_source_stopped", "error", err.Error())
			}
		}()
	}

	be := backend.New(store, backend.Options{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		Locations: locations,
	}, logger)

	var verifier *auth.Verifier
	if cfg.BackendJWTSecret != "" {
		verifier = auth.NewVerifier(cfg.BackendJWTSecret)
	}
	authClient := auth.NewClient(cfg.BackendURL, cfg.BackendKey, cfg.BackendTimeout)
	sessions := auth.NewManager(authClient, verifier, be, cfg.ProfileDelay, logger)
	defer sessions.Close()

	var gateway payments.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeSecretKey)
	}
	var webhook *payments.Webhook
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret != "" {
		webhook = payments.NewWebhook(cfg.StripeWebhookSecret, be, logger)
	}

	var places *maps.Places
	if cfg.MapsAPIKey != "" {
		places = maps.NewPlaces(cfg.MapsEndpoint, cfg.MapsAPIKey, cfg.MapsCountry, cfg.BackendTimeout)
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(5 * time.Minute), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMURL)
	}

	checks := []diagnostics.Check{diagnostics.Auth(authClient.Health)}
	if d, ok := store.(storage.Diagnoser); ok {
		checks = append(checks, diagnostics.Database(d), diagnostics.Schema(d, storage.Tables))
	}
	if rc != nil {
		checks = append(checks, diagnostics.Redis(rc))
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Sessions: sessions,
		Backend:  be,
		Feed:     hub,
		Payments: payments.NewService(gateway, be, cfg.Currency, logger),
		Webhook:  webhook,
		Places:   places,
		ETA:      estimator,
		Fare: fare.Calculator{
			BaseFare:      cfg.BaseFare,
			PerKmRate:     cfg.PerKmRate,
			MinDistanceKm: cfg.MinDistanceKm,
			MaxDistanceKm: cfg.MaxDistanceKm,
		},
		Push:    push.NewRegistry(),
		Limiter: limiter,
		Logger:  logger,

		Diagnostics: diagnostics.NewRunner(cfg.BackendTimeout, checks...),
	}, httpapi.Options{
		Origin:          cfg.PublicOrigin,
		LoadingTimeout:  cfg.LoadingTimeout,
		SecureCookies:   strings.HasPrefix(cfg.PublicOrigin, "https://"),
		StripePublicKey: cfg.StripePublicKey,
		Viewport:        maps.DefaultViewport(),
		Tracking: tracking.Config{
			RatingPromptDelay: cfg.RatingPromptDelay,
			Currency:          cfg.Currency,
			Locale:            cfg.Locale,
			SpeedMps:          cfg.DefaultSpeedMps,
			FetchTimeout:      cfg.BackendTimeout,
		},
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-passenger listening", "addr", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err.Error())
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}

// openStore returns the Postgres store when a DSN is configured, applying
// the schema when MIGRATE=true and following row changes through
// LISTEN/NOTIFY. Without a DSN rows live in memory and changes are
// published straight to the hub.
func openStore(ctx context.Context, cfg config.ServerConfig, hub *realtime.Hub, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		return storage.NewMemoryStore(hub), nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		script, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
		if err != nil {
			ps.Close()
			return nil, err
		}
		if err := ps.Migrate(ctx, string(script)); err != nil {
			ps.Close()
			return nil, err
		}
		logger.Info("migration applied", "file", "001_init.sql")
	}

	listener, err := realtime.NewPGListener(cfg.PGDSN, hub, logger)
	if err != nil {
		ps.Close()
		return nil, err
	}
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pg_listener_stopped", "error", err.Error())
		}
	}()
	return ps, nil
}
