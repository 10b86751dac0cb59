package worker

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"
)

type Config struct {
	Workers       int           `yaml:"workers"`
	ClaimBatch    int           `yaml:"claim_batch"`
	EmptySleep    time.Duration `yaml:"empty_sleep"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	ClaimRetry backoff.Config `yaml:"claim_retry"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Workers, prefix+".workers", 2, "Worker goroutines per stage.")
	f.IntVar(&cfg.ClaimBatch, prefix+".claim-batch", 1, "Entries claimed per poll.")
	f.DurationVar(&cfg.ShutdownGrace, prefix+".shutdown-grace", 2*time.Minute, "How long an in-flight entry may keep running after stop.")
	cfg.EmptySleep = time.Second
	cfg.ClaimRetry = backoff.Config{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}
