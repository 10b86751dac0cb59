package queue

import (
	"flag"
	"time"
)

type Config struct {
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RetryBase         time.Duration `yaml:"retry_base"`
	RetryCap          time.Duration `yaml:"retry_cap"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.VisibilityTimeout = 10 * time.Minute
	cfg.RetryBase = 30 * time.Second
	cfg.RetryCap = 10 * time.Minute
	f.IntVar(&cfg.MaxAttempts, prefix+".max-attempts", 5, "Attempts before an entry is parked as failed.")
}
