package store

import (
	"flag"
	"time"
)

type Config struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, prefix+".url", "", "Postgres connection string.")
	cfg.MaxOpenConns = 16
	cfg.MaxIdleConns = 4
	cfg.ConnMaxLifetime = 30 * time.Minute
	cfg.MigrateOnStart = true
}
