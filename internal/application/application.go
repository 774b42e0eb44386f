package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eugenenazirov/pack-fulfillment/internal/api"
	"github.com/eugenenazirov/pack-fulfillment/internal/calculator"
	"github.com/eugenenazirov/pack-fulfillment/internal/config"
	"github.com/eugenenazirov/pack-fulfillment/internal/metrics"
	"github.com/eugenenazirov/pack-fulfillment/internal/registry"
)

const (
	metricsNamespace = "packs"
	redisDialTimeout = 5 * time.Second
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	registry   registry.Registry
	calculator calculator.Calculator
	metrics    *metrics.Metrics
	handler    *api.Handler
	router     http.Handler
	logger     *zap.Logger
	server     *http.Server
	closers    []func() error
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	reg, err := app.newRegistry(cfg)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialise pack size registry: %w", err)
	}
	app.registry = reg

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.metrics = metrics.New(metricsNamespace, promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry})
	}

	app.calculator = calculator.New(
		calculator.WithMaxQuantity(cfg.MaxOrderQuantity),
		calculator.WithMaxPackSizes(cfg.MaxPackSizes),
	)
	app.handler = api.NewHandler(app.calculator, app.registry,
		api.WithMetrics(app.metrics),
		api.WithHandlerLogger(logger),
	)
	app.router = api.NewRouter(app.handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		api.WithRouterMetrics(app.metrics),
	)

	app.server = NewServer(cfg, BuildRootHandler(app.router, metricsHandler))
	return app, nil
}

// newRegistry builds the configured backend and seeds it with the initial
// pack sizes.
func (a *App) newRegistry(cfg config.Config) (registry.Registry, error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Registry.RedisAddr,
			Password:    cfg.Registry.RedisPassword,
			DB:          cfg.Registry.RedisDB,
			DialTimeout: redisDialTimeout,
		})
		a.closers = append(a.closers, client.Close)

		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.Registry.RedisAddr, err)
		}

		reg := registry.NewRedisRegistry(client,
			registry.WithKey(cfg.Registry.RedisKey),
			registry.WithLogger(a.logger),
			registry.WithLimit(cfg.MaxPackSizes),
		)
		seeded, err := reg.SeedIfEmpty(ctx, cfg.InitialPackSizes)
		if err != nil {
			return nil, fmt.Errorf("seed redis registry: %w", err)
		}
		a.logger.Info("using redis pack size registry",
			zap.String("addr", cfg.Registry.RedisAddr),
			zap.String("key", cfg.Registry.RedisKey),
			zap.Bool("seeded", seeded),
		)
		return reg, nil
	default:
		reg, err := registry.NewMemoryRegistry(cfg.InitialPackSizes, registry.WithMemoryLimit(cfg.MaxPackSizes))
		if err != nil {
			return nil, fmt.Errorf("failed to apply initial pack sizes: %w", err)
		}
		a.logger.Info("using in-memory pack size registry", zap.Ints("pack_sizes", cfg.InitialPackSizes))
		return reg, nil
	}
}

// BuildRootHandler mounts the API under /api/ and, when metricsHandler is
// non-nil, the Prometheus endpoint under /metrics. Everything else is a JSON 404.
func BuildRootHandler(apiHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	mux.Handle("/", api.NotFoundHandler())
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Close releases backend connections. Call it after the server has shut down.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
