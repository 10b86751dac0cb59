package app

import (
	"flag"

	dslog "github.com/grafana/dskit/log"
	"github.com/pkg/errors"

	"github.com/buscafornecedor/perfilador/modules/discovery"
	"github.com/buscafornecedor/perfilador/modules/frontend"
	"github.com/buscafornecedor/perfilador/modules/frontend/searchclient"
	"github.com/buscafornecedor/perfilador/modules/profile"
	"github.com/buscafornecedor/perfilador/modules/queue"
	"github.com/buscafornecedor/perfilador/modules/scraper"
	"github.com/buscafornecedor/perfilador/modules/store"
	"github.com/buscafornecedor/perfilador/modules/worker"
	"github.com/buscafornecedor/perfilador/pkg/llm"
	"github.com/buscafornecedor/perfilador/pkg/ratelimit"
)

// TokenBudget overrides the default bucket for one (vendor, resource)
// pair. Model-call budgets are token-scale, far above the default
// request-scale bucket the search vendor uses.
type TokenBudget struct {
	Vendor    string  `yaml:"vendor"`
	Resource  string  `yaml:"resource"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type Config struct {
	HTTPListenAddress string      `yaml:"http_listen_address"`
	LogLevel          dslog.Level `yaml:"log_level"`
	LogFormat         string      `yaml:"log_format"`

	Store        store.Config        `yaml:"database"`
	Queue        queue.Config        `yaml:"queue"`
	Worker       worker.Config       `yaml:"worker"`
	Frontend     frontend.Config     `yaml:"frontend"`
	Search       searchclient.Config `yaml:"search"`
	Scraper      scraper.Config      `yaml:"scraper"`
	Discovery    discovery.Config    `yaml:"discovery"`
	Profile      profile.Config      `yaml:"profile"`
	LLM          llm.Config          `yaml:"llm"`
	RateLimit    ratelimit.Config    `yaml:"ratelimit"`
	TokenBudgets []TokenBudget       `yaml:"token_budgets"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	f.StringVar(&cfg.HTTPListenAddress, "http-listen-address", ":8080", "HTTP listen address.")
	cfg.LogLevel.RegisterFlags(f)
	cfg.LogFormat = "logfmt"

	cfg.Store.RegisterFlagsAndApplyDefaults("database", f)
	cfg.Queue.RegisterFlagsAndApplyDefaults("queue", f)
	cfg.Worker.RegisterFlagsAndApplyDefaults("worker", f)
	cfg.Frontend.RegisterFlagsAndApplyDefaults("frontend", f)
	cfg.Search.RegisterFlagsAndApplyDefaults("search", f)
	cfg.Scraper.RegisterFlagsAndApplyDefaults("scraper", f)
	cfg.Discovery.RegisterFlagsAndApplyDefaults("discovery", f)
	cfg.Profile.RegisterFlagsAndApplyDefaults("profile", f)
	cfg.LLM.RegisterFlagsAndApplyDefaults("llm", f)
	cfg.RateLimit.RegisterFlagsAndApplyDefaults("ratelimit", f)
}

func (cfg *Config) Validate() error {
	if cfg.Store.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Frontend.APIToken == "" && !cfg.Frontend.AllowUnauthenticated {
		return errors.New("frontend.api_token is required unless frontend.allow_unauthenticated is set")
	}
	return llm.ValidateConfig(&cfg.LLM)
}
