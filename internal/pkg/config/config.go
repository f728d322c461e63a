package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const (
	LedgerDriverEthereum = "ethereum"
	LedgerDriverLocal    = "local"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":9091"`

	MaxEventSize int64    `env:"MAX_EVENT_SIZE_BYTES" envDefault:"65536"` // 64KB
	ThreatLevels []string `env:"THREAT_LEVELS" envSeparator:"," envDefault:"low,medium,suspicious,high,critical,malicious"`

	LedgerDriver          string        `env:"LEDGER_DRIVER" envDefault:"ethereum"`
	LedgerRPCURL          string        `env:"LEDGER_RPC_URL,required,notEmpty"`
	LedgerPrivateKey      string        `env:"LEDGER_PRIVATE_KEY,required,notEmpty,unset"`
	LedgerContractAddress string        `env:"LEDGER_CONTRACT_ADDRESS,required,notEmpty"`
	LedgerMaxAttempts     int           `env:"LEDGER_MAX_ATTEMPTS" envDefault:"5"`
	LedgerRetryInitial    time.Duration `env:"LEDGER_RETRY_INITIAL" envDefault:"500ms"`
	LedgerRetryMax        time.Duration `env:"LEDGER_RETRY_MAX" envDefault:"10s"`
	LedgerConfirmTimeout  time.Duration `env:"LEDGER_CONFIRM_TIMEOUT" envDefault:"2m"`
	LedgerSubmitRate      float64       `env:"LEDGER_SUBMIT_RATE" envDefault:"0"`

	CommitQueueSize      int           `env:"COMMIT_QUEUE_SIZE" envDefault:"10000"`
	ShutdownDrainTimeout time.Duration `env:"SHUTDOWN_DRAIN_TIMEOUT" envDefault:"15s"`

	ObserverBuffer       int           `env:"OBSERVER_BUFFER" envDefault:"64"`
	ObserverWriteTimeout time.Duration `env:"OBSERVER_WRITE_TIMEOUT" envDefault:"5s"`

	SourceRedisURL  string `env:"SOURCE_REDIS_URL"`
	SourceStream    string `env:"SOURCE_STREAM" envDefault:"honeypot_events"`
	SourceGroup     string `env:"SOURCE_GROUP" envDefault:"honeyledger"`
	SourceDLQStream string `env:"SOURCE_DLQ_STREAM" envDefault:"honeypot_events_dlq"`
	SourceBatchSize int    `env:"SOURCE_BATCH_SIZE" envDefault:"100"`

	SourceClaimMinIdle time.Duration `env:"SOURCE_CLAIM_MIN_IDLE" envDefault:"1m"`

	JournalPath        string `env:"JOURNAL_PATH" envDefault:"./data/failed-commits"`
	JournalSegmentSize int64  `env:"JOURNAL_SEGMENT_SIZE_BYTES" envDefault:"10485760"`   // 10MB
	JournalMaxDiskSize int64  `env:"JOURNAL_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB

	IngestAuthPostgresURL string        `env:"INGEST_AUTH_POSTGRES_URL"`
	APIKeyCacheTTL        time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`
}

// Load reads configuration from environment variables.
// Every failure is returned as a *domain.ConfigurationError.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &domain.ConfigurationError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot check on its own.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LedgerRPCURL) == "" {
		return &domain.ConfigurationError{Field: "LEDGER_RPC_URL", Err: errors.New("must not be empty")}
	}
	if err := checkHex(c.LedgerPrivateKey, 32); err != nil {
		return &domain.ConfigurationError{Field: "LEDGER_PRIVATE_KEY", Err: err}
	}
	if err := checkHex(c.LedgerContractAddress, 20); err != nil {
		return &domain.ConfigurationError{Field: "LEDGER_CONTRACT_ADDRESS", Err: err}
	}
	if c.LedgerDriver != LedgerDriverEthereum && c.LedgerDriver != LedgerDriverLocal {
		return &domain.ConfigurationError{Field: "LEDGER_DRIVER", Err: fmt.Errorf("unknown driver %q", c.LedgerDriver)}
	}
	if c.LedgerMaxAttempts < 1 {
		return &domain.ConfigurationError{Field: "LEDGER_MAX_ATTEMPTS", Err: errors.New("must be at least 1")}
	}
	if c.CommitQueueSize < 1 {
		return &domain.ConfigurationError{Field: "COMMIT_QUEUE_SIZE", Err: errors.New("must be at least 1")}
	}
	if len(c.ThreatLevels) == 0 {
		return &domain.ConfigurationError{Field: "THREAT_LEVELS", Err: errors.New("must list at least one level")}
	}
	return nil
}

func checkHex(s string, size int) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != size*2 {
		return fmt.Errorf("expected %d hex characters, got %d", size*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("not hex encoded: %w", err)
	}
	return nil
}
