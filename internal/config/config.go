// Package config loads the ingestion core's typed configuration from a
// YAML file with environment-variable overrides, generalizing the
// teacher's env.GetEnv/GetEnvAsInt helpers into a single struct other
// components depend on directly instead of reading the environment
// themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for every ingestion component, per the
// enumerated options in §6.
type Config struct {
	UserAgent string `yaml:"userAgent"`

	MaxDepth            int           `yaml:"maxDepth"`
	SchedulerBatch      int           `yaml:"schedulerBatch"`
	SchedulerInterval   time.Duration `yaml:"schedulerIntervalMs"`
	FetchConcurrency    int           `yaml:"fetchConcurrency"`
	LinkIngestWorkers   int           `yaml:"linkIngestWorkers"`
	IndexWorkers        int           `yaml:"indexWorkers"`

	BloomCapacity uint    `yaml:"bloomCapacity"`
	BloomFPR      float64 `yaml:"bloomFPR"`

	SimhashHammingThreshold int `yaml:"simhashHammingThreshold"`
	LSHBands                int `yaml:"lshBands"`
	LSHBandBits             int `yaml:"lshBandBits"`

	Damping             float64 `yaml:"damping"`
	ConvergenceEpsilon  float64 `yaml:"convergenceEpsilon"`
	MaxIterations       int     `yaml:"maxIterations"`

	Strategy       string   `yaml:"strategy"`
	TrackingParams []string `yaml:"trackingParams"`

	MaxRetries int `yaml:"maxRetries"`

	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Admin     AdminConfig     `yaml:"admin"`
	TextStore TextStoreConfig `yaml:"textStore"`
}

// TextStoreConfig configures the HTTP client for the external full-text
// store §4.9's Indexer writes WebDocuments to.
type TextStoreConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

// RedisConfig configures the ephemeral KV store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the durable state store backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// KafkaConfig configures the durable bus backend.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	Partitions       int      `yaml:"partitions"`
	RetentionDays    int      `yaml:"retentionDays"`
	DLQRetentionDays int      `yaml:"dlqRetentionDays"`
}

// AdminConfig configures the admin HTTP surface.
type AdminConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// defaults mirror §6's documented default values.
func defaults() Config {
	return Config{
		UserAgent:               "ingestcore-bot/1.0 (+https://example.invalid/bot)",
		MaxDepth:                3,
		SchedulerBatch:          100,
		SchedulerInterval:       10 * time.Second,
		FetchConcurrency:        4,
		LinkIngestWorkers:       2,
		IndexWorkers:            2,
		BloomCapacity:           10_000_000,
		BloomFPR:                0.01,
		SimhashHammingThreshold: 3,
		LSHBands:                4,
		LSHBandBits:             16,
		Damping:                 0.85,
		ConvergenceEpsilon:      1e-4,
		MaxIterations:           100,
		Strategy:                "best_first",
		TrackingParams: []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"fbclid", "gclid", "msclkid", "_ga", "mc_cid", "mc_eid",
		},
		MaxRetries: 3,
		Redis:      RedisConfig{Addr: "localhost:6379"},
		Postgres:   PostgresConfig{DSN: "postgres://localhost/ingestcore?sslmode=disable"},
		Kafka:      KafkaConfig{Brokers: []string{"localhost:9092"}, Partitions: 16, RetentionDays: 7, DLQRetentionDays: 30},
		Admin:      AdminConfig{ListenAddr: ":8090"},
		TextStore:  TextStoreConfig{BaseURL: "http://localhost:7700/documents"},
	}
}

// Load reads a YAML file at path (if it exists) over the built-in
// defaults, then applies environment-variable overrides on top, mirroring
// the precedence the teacher's NewFromEnv constructor applies to option
// functions: explicit overrides always win over defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.UserAgent = getEnv("USER_AGENT", cfg.UserAgent)
	cfg.MaxDepth = getEnvAsInt("MAX_DEPTH", cfg.MaxDepth)
	cfg.SchedulerBatch = getEnvAsInt("SCHEDULER_BATCH", cfg.SchedulerBatch)
	cfg.FetchConcurrency = getEnvAsInt("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.Strategy = getEnv("STRATEGY", cfg.Strategy)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Admin.ListenAddr = getEnv("ADMIN_LISTEN_ADDR", cfg.Admin.ListenAddr)
	cfg.TextStore.BaseURL = getEnv("TEXTSTORE_BASE_URL", cfg.TextStore.BaseURL)
	if v, ok := os.LookupEnv("SCHEDULER_INTERVAL_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.SchedulerInterval = time.Duration(ms) * time.Millisecond
		}
	}
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	v := getEnv(key, "")
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
