package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "PACK_SIZES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MAX_ORDER_QUANTITY", "MAX_PACK_SIZES",
		"LOG_LEVEL", "CORS_ALLOWED_ORIGINS", "METRICS_ENABLED", "REGISTRY_BACKEND",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if want := []int{250, 500, 1000, 2000, 5000}; !slices.Equal(cfg.InitialPackSizes, want) {
		t.Fatalf("expected default pack sizes %v, got %v", want, cfg.InitialPackSizes)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.MaxOrderQuantity != defaultMaxOrderQuantity {
		t.Fatalf("unexpected max order quantity: %d", cfg.MaxOrderQuantity)
	}
	if cfg.MaxPackSizes != defaultMaxPackSizes {
		t.Fatalf("unexpected max pack sizes: %d", cfg.MaxPackSizes)
	}
	if cfg.Registry.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Registry.Backend)
	}
	if !cfg.MetricsEnabled || !cfg.EnableRequestLogging {
		t.Fatalf("expected metrics and request logging enabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("PACK_SIZES", "10, 20 , 30")
	t.Setenv("MAX_ORDER_QUANTITY", "5000")
	t.Setenv("MAX_PACK_SIZES", "4")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	if want := []int{10, 20, 30}; !slices.Equal(cfg.InitialPackSizes, want) {
		t.Fatalf("unexpected pack sizes: %v", cfg.InitialPackSizes)
	}
	if cfg.MaxOrderQuantity != 5000 {
		t.Fatalf("expected max order quantity 5000, got %d", cfg.MaxOrderQuantity)
	}
	if cfg.MaxPackSizes != 4 {
		t.Fatalf("expected max pack sizes 4, got %d", cfg.MaxPackSizes)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("expected metrics disabled")
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_LIMIT_RPS", "3")

	configFile := writeFile(t, "config.yaml", strings.Join([]string{
		"port: \"7100\"",
		"pack_sizes: [23, 31, 53]",
		"shutdown_grace_period: 3s",
		"enable_request_logging: false",
		"rate_limit:",
		"  rps: 0",
		"  burst: 0",
		"registry:",
		"  backend: redis",
		"  redis:",
		"    addr: localhost:6379",
		"    key: custom:sizes",
	}, "\n"))

	cliPort := "7200"
	cfg, err := Load(&CLIOverrides{ConfigFile: configFile, Port: &cliPort})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "7200" {
		t.Fatalf("expected CLI port to win, got %s", cfg.Port)
	}
	if cfg.RateLimitRPS != 0 || cfg.RateLimitBurst != 0 {
		t.Fatalf("expected YAML rate limit to override env, got %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if want := []int{23, 31, 53}; !slices.Equal(cfg.InitialPackSizes, want) {
		t.Fatalf("unexpected pack sizes: %v", cfg.InitialPackSizes)
	}
	if cfg.ShutdownGracePeriod != 3*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.EnableRequestLogging {
		t.Fatalf("expected request logging disabled by YAML")
	}
	if cfg.Registry.Backend != BackendRedis || cfg.Registry.RedisAddr != "localhost:6379" || cfg.Registry.RedisKey != "custom:sizes" {
		t.Fatalf("unexpected registry config: %+v", cfg.Registry)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PORT")

	envFile := writeFile(t, "test.env", "PORT=6060\n")
	cfg, err := Load(&CLIOverrides{EnvFile: envFile})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "6060" {
		t.Fatalf("expected port from env file, got %s", cfg.Port)
	}

	if _, err := Load(&CLIOverrides{EnvFile: filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Fatalf("expected error for explicit missing env file")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "redis without address", yaml: "registry:\n  backend: redis\n"},
		{name: "unknown backend", yaml: "registry:\n  backend: etcd\n"},
		{name: "negative rate limit", yaml: "rate_limit:\n  rps: -1\n"},
		{name: "non-positive pack size", yaml: "pack_sizes: [10, 0]\n"},
		{name: "unknown log level", yaml: "log_level: loud\n"},
		{name: "bad duration", yaml: "write_timeout: soon\n"},
		{name: "negative pack size cap", yaml: "max_pack_sizes: -2\n"},
		{name: "seed above pack size cap", yaml: "max_pack_sizes: 2\npack_sizes: [10, 20, 30]\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			configFile := writeFile(t, "config.yaml", tc.yaml)
			if _, err := Load(&CLIOverrides{ConfigFile: configFile}); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMaxPackSizesPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_PACK_SIZES", "3")

	configFile := writeFile(t, "config.yaml", "max_pack_sizes: 6\npack_sizes: [10, 20, 20, 30, 40]\n")
	cfg, err := Load(&CLIOverrides{ConfigFile: configFile})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxPackSizes != 6 {
		t.Fatalf("expected YAML max pack sizes to override env, got %d", cfg.MaxPackSizes)
	}

	cliMax := 4
	cfg, err = Load(&CLIOverrides{ConfigFile: configFile, MaxPackSizes: &cliMax})
	if err != nil {
		t.Fatalf("duplicate seed sizes should count once against the cap: %v", err)
	}
	if cfg.MaxPackSizes != 4 {
		t.Fatalf("expected CLI max pack sizes to win, got %d", cfg.MaxPackSizes)
	}

	cliMax = 3
	if _, err := Load(&CLIOverrides{ConfigFile: configFile, MaxPackSizes: &cliMax}); err == nil {
		t.Fatalf("expected error when the seed exceeds the cap")
	}
}

func TestParsePackSizes(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := parsePackSizes("1,2,3")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []int{1, 2, 3}; !slices.Equal(got, want) {
			t.Fatalf("unexpected sizes: %v", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := parsePackSizes(" , "); err == nil {
			t.Fatalf("expected error for empty string")
		}
		if _, err := parsePackSizes("1,a"); err == nil {
			t.Fatalf("expected error for invalid integer")
		}
		if _, err := parsePackSizes("1,-2"); err == nil {
			t.Fatalf("expected error for negative size")
		}
	})
}
