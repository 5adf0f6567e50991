// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds the settings of the server and the simulation runner.
type Config struct {
	Port     string
	LogLevel slog.Level

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	SQLitePath  string

	KafkaBrokers []string
	KafkaTopic   string

	OptimizerIterations int

	SimSeed       int64
	SimTicks      int
	SimHouseholds int
	SimFactories  int
}

// Load reads the configuration from environment variables, falling back to
// defaults for unset ones. Malformed values are errors.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("kafka_topic", "market.settlements")
	v.SetDefault("optimizer_iterations", 500)
	v.SetDefault("sim_seed", 42)
	v.SetDefault("sim_ticks", 240)
	v.SetDefault("sim_households", 20)
	v.SetDefault("sim_factories", 4)

	r := reader{v: v}
	cfg := Config{
		Port:                strings.TrimSpace(v.GetString("port")),
		DatabaseURL:         strings.TrimSpace(v.GetString("database_url")),
		RedisURL:            strings.TrimSpace(v.GetString("redis_url")),
		CacheTTL:            r.duration("cache_ttl"),
		SQLitePath:          strings.TrimSpace(v.GetString("sqlite_path")),
		KafkaBrokers:        list(v.GetString("kafka_brokers")),
		KafkaTopic:          strings.TrimSpace(v.GetString("kafka_topic")),
		OptimizerIterations: r.integer("optimizer_iterations"),
		SimSeed:             r.integer64("sim_seed"),
		SimTicks:            r.integer("sim_ticks"),
		SimHouseholds:       r.integer("sim_households"),
		SimFactories:        r.integer("sim_factories"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v.GetString("log_level")))); err != nil {
		r.errs = append(r.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if len(r.errs) > 0 {
		return Config{}, r.errs[0]
	}
	if cfg.OptimizerIterations < 1 {
		return Config{}, fmt.Errorf("OPTIMIZER_ITERATIONS must be positive, got %d", cfg.OptimizerIterations)
	}
	return cfg, nil
}

// reader converts raw viper values with the cast E-functions so a malformed
// value is reported instead of silently read as zero.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) integer(key string) int {
	n, err := cast.ToIntE(trim(r.v.Get(key)))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
	}
	return n
}

func (r *reader) integer64(key string) int64 {
	n, err := cast.ToInt64E(trim(r.v.Get(key)))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
	}
	return n
}

func (r *reader) duration(key string) time.Duration {
	d, err := cast.ToDurationE(trim(r.v.Get(key)))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
	}
	return d
}

func trim(raw any) any {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return raw
}

func list(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
