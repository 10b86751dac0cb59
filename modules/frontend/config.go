package frontend

import (
	"flag"
	"time"
)

type Config struct {
	// APIToken guards every /v2 endpoint. Startup fails when it is left
	// unset; an intentionally open instance sets allow_unauthenticated.
	APIToken             string        `yaml:"api_token"`
	AllowUnauthenticated bool          `yaml:"allow_unauthenticated"`
	SearchTimeout        time.Duration `yaml:"search_timeout"`
	ScrapeTimeout        time.Duration `yaml:"scrape_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.APIToken, prefix+".api-token", "", "Shared secret expected in X-API-Key.")
	cfg.SearchTimeout = 30 * time.Second
	cfg.ScrapeTimeout = 5 * time.Minute
}
