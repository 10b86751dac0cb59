package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/buscafornecedor/perfilador/cmd/perfilador/app"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

func main() {
	var cfg app.Config
	cfg.RegisterFlagsAndApplyDefaults(flag.CommandLine)
	configFile := flag.String("config.file", "", "Configuration file to load.")
	flag.Parse()

	if *configFile != "" {
		if err := loadConfig(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	log.InitLogger(cfg.LogFormat, cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to build application", "err", err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		level.Error(log.Logger).Log("msg", "application exited with error", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the YAML config after expanding ${ENV} references, so
// secrets stay out of the file itself.
func loadConfig(path string, cfg *app.Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return errors.Wrap(err, "expanding environment variables")
	}
	return errors.Wrap(yaml.UnmarshalStrict([]byte(expanded), cfg), "parsing config file")
}
