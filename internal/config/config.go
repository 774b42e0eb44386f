package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/pack-fulfillment/internal/registry"
)

const (
	defaultPort             = "8080"
	defaultRateLimitRPS     = 25.0
	defaultRateLimitBurst   = 50
	defaultMaxOrderQuantity = 1_000_000
	defaultMaxPackSizes     = 10
	defaultEnvFile          = ".env"

	// BackendMemory keeps pack sizes in process memory.
	BackendMemory = "memory"
	// BackendRedis keeps pack sizes in a Redis set.
	BackendRedis = "redis"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string        `validate:"required"`
	InitialPackSizes     []int         `validate:"dive,gt=0"`
	ShutdownGracePeriod  time.Duration `validate:"gt=0"`
	ReadHeaderTimeout    time.Duration `validate:"gte=0"`
	WriteTimeout         time.Duration `validate:"gte=0"`
	IdleTimeout          time.Duration `validate:"gte=0"`
	EnableRequestLogging bool
	RateLimitRPS         float64  `validate:"gte=0"`
	RateLimitBurst       int      `validate:"gte=0"`
	MaxOrderQuantity     int      `validate:"gt=0"`
	MaxPackSizes         int      `validate:"gt=0"`
	LogLevel             string   `validate:"oneof=debug info warn error"`
	CORSAllowedOrigins   []string `validate:"min=1,dive,required"`
	MetricsEnabled       bool
	Registry             RegistryConfig
}

// RegistryConfig selects and configures the pack size registry backend.
type RegistryConfig struct {
	Backend       string `validate:"oneof=memory redis"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	RedisKey      string `validate:"required"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	PackSizes            []int         `yaml:"pack_sizes"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	MaxOrderQuantity     int           `yaml:"max_order_quantity"`
	MaxPackSizes         int           `yaml:"max_pack_sizes"`
	LogLevel             string        `yaml:"log_level"`
	CORSAllowedOrigins   []string      `yaml:"cors_allowed_origins"`
	MetricsEnabled       *bool         `yaml:"metrics_enabled"`
	Registry             yamlRegistry  `yaml:"registry"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// yamlRegistry represents the registry section in YAML.
type yamlRegistry struct {
	Backend string    `yaml:"backend"`
	Redis   yamlRedis `yaml:"redis"`
}

type yamlRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	Key      string `yaml:"key"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile       string
	EnvFile          string
	Port             *string
	PackSizesStr     *string
	RateLimitRPS     *float64
	RateLimitBurst   *int
	MaxOrderQuantity *int
	MaxPackSizes     *int
	LogLevel         *string
	RegistryBackend  *string
	RedisAddr        *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := loadEnvFile(overrides); err != nil {
		return Config{}, err
	}
	applyEnvConfig(&cfg)

	// YAML overrides the environment
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		InitialPackSizes:     registry.DefaultPackSizes(),
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		MaxOrderQuantity:     defaultMaxOrderQuantity,
		MaxPackSizes:         defaultMaxPackSizes,
		LogLevel:             "info",
		CORSAllowedOrigins:   []string{"*"},
		MetricsEnabled:       true,
		Registry: RegistryConfig{
			Backend:  BackendMemory,
			RedisKey: registry.DefaultRedisKey,
		},
	}
}

// loadEnvFile populates the process environment from a dotenv file. Variables
// that are already set win. A missing default file is not an error; a missing
// file requested explicitly is.
func loadEnvFile(overrides *CLIOverrides) error {
	path := defaultEnvFile
	explicit := overrides != nil && overrides.EnvFile != ""
	if explicit {
		path = overrides.EnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	if len(yamlCfg.PackSizes) > 0 {
		cfg.InitialPackSizes = yamlCfg.PackSizes
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}

	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if yamlCfg.MaxOrderQuantity != 0 {
		cfg.MaxOrderQuantity = yamlCfg.MaxOrderQuantity
	}

	if yamlCfg.MaxPackSizes != 0 {
		cfg.MaxPackSizes = yamlCfg.MaxPackSizes
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(yamlCfg.LogLevel)
	}

	if len(yamlCfg.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = yamlCfg.CORSAllowedOrigins
	}

	if yamlCfg.MetricsEnabled != nil {
		cfg.MetricsEnabled = *yamlCfg.MetricsEnabled
	}

	if yamlCfg.Registry.Backend != "" {
		cfg.Registry.Backend = strings.ToLower(yamlCfg.Registry.Backend)
	}
	if yamlCfg.Registry.Redis.Addr != "" {
		cfg.Registry.RedisAddr = yamlCfg.Registry.Redis.Addr
	}
	if yamlCfg.Registry.Redis.Password != "" {
		cfg.Registry.RedisPassword = yamlCfg.Registry.Redis.Password
	}
	if yamlCfg.Registry.Redis.DB != nil {
		cfg.Registry.RedisDB = *yamlCfg.Registry.Redis.DB
	}
	if yamlCfg.Registry.Redis.Key != "" {
		cfg.Registry.RedisKey = yamlCfg.Registry.Redis.Key
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if port := envValue("PORT"); port != "" {
		cfg.Port = port
	}

	if rawSizes := envValue("PACK_SIZES"); rawSizes != "" {
		sizes, err := parsePackSizes(rawSizes)
		if err == nil && len(sizes) > 0 {
			cfg.InitialPackSizes = sizes
		}
	}

	if rps := envValue("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := envValue("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if maxQty := envValue("MAX_ORDER_QUANTITY"); maxQty != "" {
		if value, err := strconv.Atoi(maxQty); err == nil && value > 0 {
			cfg.MaxOrderQuantity = value
		}
	}

	if maxSizes := envValue("MAX_PACK_SIZES"); maxSizes != "" {
		if value, err := strconv.Atoi(maxSizes); err == nil && value > 0 {
			cfg.MaxPackSizes = value
		}
	}

	if level := envValue("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	if origins := envValue("CORS_ALLOWED_ORIGINS"); origins != "" {
		if parsed := splitAndTrim(origins); len(parsed) > 0 {
			cfg.CORSAllowedOrigins = parsed
		}
	}

	if enabled := envValue("METRICS_ENABLED"); enabled != "" {
		if value, err := strconv.ParseBool(enabled); err == nil {
			cfg.MetricsEnabled = value
		}
	}

	if backend := envValue("REGISTRY_BACKEND"); backend != "" {
		cfg.Registry.Backend = strings.ToLower(backend)
	}

	if addr := envValue("REDIS_ADDR"); addr != "" {
		cfg.Registry.RedisAddr = addr
	}

	if password := envValue("REDIS_PASSWORD"); password != "" {
		cfg.Registry.RedisPassword = password
	}

	if db := envValue("REDIS_DB"); db != "" {
		if value, err := strconv.Atoi(db); err == nil && value >= 0 {
			cfg.Registry.RedisDB = value
		}
	}

	if key := envValue("REDIS_KEY"); key != "" {
		cfg.Registry.RedisKey = key
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.PackSizesStr != nil && *overrides.PackSizesStr != "" {
		sizes, err := parsePackSizes(*overrides.PackSizesStr)
		if err != nil {
			return fmt.Errorf("parse pack sizes: %w", err)
		}
		cfg.InitialPackSizes = sizes
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	if overrides.MaxOrderQuantity != nil && *overrides.MaxOrderQuantity > 0 {
		cfg.MaxOrderQuantity = *overrides.MaxOrderQuantity
	}

	if overrides.MaxPackSizes != nil && *overrides.MaxPackSizes > 0 {
		cfg.MaxPackSizes = *overrides.MaxPackSizes
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*overrides.LogLevel)
	}

	if overrides.RegistryBackend != nil && *overrides.RegistryBackend != "" {
		cfg.Registry.Backend = strings.ToLower(*overrides.RegistryBackend)
	}

	if overrides.RedisAddr != nil && *overrides.RedisAddr != "" {
		cfg.Registry.RedisAddr = *overrides.RedisAddr
	}

	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid configuration: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if n := countDistinct(cfg.InitialPackSizes); n > cfg.MaxPackSizes {
		return fmt.Errorf("invalid configuration: %d initial pack sizes exceed max_pack_sizes %d", n, cfg.MaxPackSizes)
	}
	return nil
}

func countDistinct(values []int) int {
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// parsePackSizes parses a comma-separated string of pack sizes into a slice of integers.
// It validates that all values are positive integers.
func parsePackSizes(raw string) ([]int, error) {
	parts := splitAndTrim(raw)
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		if value <= 0 {
			return nil, fmt.Errorf("pack size must be positive, got %d", value)
		}
		sizes = append(sizes, value)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no pack sizes provided")
	}
	return sizes, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
