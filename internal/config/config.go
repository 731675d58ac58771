package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr            string        `env:"HTTP_ADDR" env-default:":8080"`
	StorageDriver       string        `env:"STORAGE_DRIVER" env-default:"memory"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	KafkaBrokers        []string      `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic          string        `env:"KAFKA_TOPIC" env-default:"transfer_completed"`
	LogLevel            string        `env:"LOG_LEVEL" env-default:"info"`
	TransferMaxAttempts int           `env:"TRANSFER_MAX_ATTEMPTS" env-default:"3"`
	TransferRetryBase   time.Duration `env:"TRANSFER_RETRY_BASE" env-default:"10ms"`
	SeedDemoData        bool          `env:"SEED_DEMO_DATA" env-default:"true"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("couldn't load .env file: %w", err)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER is postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q, want %q or %q", c.StorageDriver, DriverMemory, DriverPostgres)
	}
	if c.TransferMaxAttempts < 1 {
		return fmt.Errorf("TRANSFER_MAX_ATTEMPTS must be at least 1, got %d", c.TransferMaxAttempts)
	}
	if c.TransferRetryBase < 0 {
		return fmt.Errorf("TRANSFER_RETRY_BASE must not be negative, got %s", c.TransferRetryBase)
	}
	return nil
}
