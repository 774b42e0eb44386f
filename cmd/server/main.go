package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/pack-fulfillment/internal/application"
	"github.com/eugenenazirov/pack-fulfillment/internal/config"
	"github.com/eugenenazirov/pack-fulfillment/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)

	if err := app.Close(); err != nil {
		logger.Warn("failed to release backend connections", zap.Error(err))
	}
}

// parseFlags maps command-line flags onto config overrides. Flags left at
// their sentinel defaults do not override lower-precedence sources.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	kingpinApp := kingpin.New("pack-fulfillment", "Pack Fulfillment Service - fills orders with the fewest whole packs")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a .env file loaded before reading the environment").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	packSizesStr := kingpinApp.Flag("pack-sizes", "Comma-separated initial pack sizes").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int()
	maxOrderQuantity := kingpinApp.Flag("max-order-quantity", "Largest order quantity accepted by the calculator").Default("-1").Int()
	maxPackSizes := kingpinApp.Flag("max-pack-sizes", "Largest number of pack sizes the registry holds").Default("-1").Int()
	logLevel := kingpinApp.Flag("log-level", "Log level").Enum("debug", "info", "warn", "error")
	registryBackend := kingpinApp.Flag("registry-backend", "Pack size registry backend").Enum(config.BackendMemory, config.BackendRedis)
	redisAddr := kingpinApp.Flag("redis-addr", "Redis address used by the redis registry backend").String()

	if _, err := kingpinApp.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *packSizesStr != "" {
		overrides.PackSizesStr = packSizesStr
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	if *maxOrderQuantity > 0 {
		overrides.MaxOrderQuantity = maxOrderQuantity
	}

	if *maxPackSizes > 0 {
		overrides.MaxPackSizes = maxPackSizes
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if *registryBackend != "" {
		overrides.RegistryBackend = registryBackend
	}

	if *redisAddr != "" {
		overrides.RedisAddr = redisAddr
	}

	return overrides, nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
