package llm

import (
	"flag"
	"fmt"
	"time"

	"github.com/grafana/dskit/backoff"
)

// VendorConfig describes one OpenAI-compatible model host. The two
// capability bits decide how the schema and the sampling adjustments are
// delivered: hosts without a structured-output directive get the schema
// appended to the system message instead, and hosts without sampling
// controls are retried without the adjusted penalties.
type VendorConfig struct {
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	MaxInFlight     int64         `yaml:"max_in_flight"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	SchemaDirective bool          `yaml:"schema_directive"`
	SamplingControl bool          `yaml:"sampling_control"`
}

type Config struct {
	Vendors []VendorConfig `yaml:"vendors"`

	// HardCap bounds in-flight calls across all vendors per process.
	HardCap     int64          `yaml:"concurrency_hard_cap"`
	MaxAttempts int            `yaml:"max_attempts"`
	Backoff     backoff.Config `yaml:"backoff"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Int64Var(&cfg.HardCap, prefix+".concurrency-hard-cap", 32, "Global in-flight model call cap per process.")
	f.IntVar(&cfg.MaxAttempts, prefix+".max-attempts", 3, "Attempts per vendor before falling back to the next.")
	f.DurationVar(&cfg.Backoff.MinBackoff, prefix+".backoff-min-period", time.Second, "Minimum delay when backing off.")
	f.DurationVar(&cfg.Backoff.MaxBackoff, prefix+".backoff-max-period", 30*time.Second, "Maximum delay when backing off.")
	cfg.Backoff.MaxRetries = 0
}

func ValidateConfig(cfg *Config) error {
	if len(cfg.Vendors) == 0 {
		return fmt.Errorf("at least one model vendor is required")
	}
	for i := range cfg.Vendors {
		v := &cfg.Vendors[i]
		if v.Name == "" || v.BaseURL == "" || v.Model == "" {
			return fmt.Errorf("vendor %d: name, base_url and model are required", i)
		}
		if v.MaxInFlight <= 0 {
			v.MaxInFlight = 8
		}
		if v.MaxOutputTokens <= 0 {
			v.MaxOutputTokens = 4096
		}
		if v.Timeout <= 0 {
			v.Timeout = 90 * time.Second
		}
	}
	if cfg.HardCap <= 0 {
		return fmt.Errorf("positive concurrency hard cap required")
	}
	return nil
}

// Sampling parameters. Defaults keep extraction deterministic; the
// adjusted set breaks repetition loops on a degeneration retry.
type sampling struct {
	temperature      float64
	presencePenalty  float64
	frequencyPenalty float64
}

var (
	defaultSampling  = sampling{temperature: 0.1, presencePenalty: 0.3, frequencyPenalty: 0.4}
	adjustedSampling = sampling{temperature: 0.2, presencePenalty: 0.6, frequencyPenalty: 0.8}
)

// Adaptive output budget: small inputs get a tight cap so a degenerate
// run on a near-empty page cannot burn the vendor maximum.
const (
	smallInputTokens  = 3000
	mediumInputTokens = 8000

	smallOutputCap  = 1200
	mediumOutputCap = 2000
)

func outputBudget(inputTokens, vendorMax int) int {
	switch {
	case inputTokens < smallInputTokens:
		return smallOutputCap
	case inputTokens <= mediumInputTokens:
		return mediumOutputCap
	default:
		return vendorMax
	}
}
