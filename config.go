package statusx

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hibiken/asynq"
)

// Config holds every tunable of the status layer, loaded from environment
// variables. Defaults are suitable for a local single-node Redis.
type Config struct {
	Redis RedisConfig `envPrefix:"STATUSX_REDIS_"`

	// Queue is the asynq queue jobs are enqueued to.
	Queue string `env:"STATUSX_QUEUE" envDefault:"default"`

	// Concurrency is the processor worker count.
	Concurrency int `env:"STATUSX_CONCURRENCY" envDefault:"10"`

	// Retention is how long a status record outlives its last write.
	Retention time.Duration `env:"STATUSX_RETENTION" envDefault:"24h"`

	// KeyPrefix namespaces every record and the expiry index in Redis.
	KeyPrefix string `env:"STATUSX_KEY_PREFIX" envDefault:"statusx:"`

	// SweepInterval is how often the sweeper prunes expired records.
	SweepInterval time.Duration `env:"STATUSX_SWEEP_INTERVAL" envDefault:"5m"`
}

// RedisConfig contains the shared store connection settings.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

// LoadConfig reads configuration from the environment and applies
// guardrails.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize clamps configuration values loaded from env to safe ranges.
func (c *Config) Sanitize() {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "statusx:"
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
}

// RedisClientOpt translates the Redis settings for asynq.
func (c *Config) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}
