// Package app assembles the modules into a running process: one HTTP
// facade plus the stage worker pools, managed as dskit services.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

type App struct {
	cfg Config

	store    *store.Store
	frontend *frontend.Frontend
	workers  []services.Service
}

func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}

	gate := ratelimit.NewGate(cfg.RateLimit)
	for _, b := range cfg.TokenBudgets {
		gate.SetLimit(b.Vendor, b.Resource, b.PerSecond, b.Burst)
	}

	manager, err := llm.NewManager(cfg.LLM, gate)
	if err != nil {
		return nil, err
	}

	discoveryQueue, err := queue.New(st.DB(), queue.TableDiscovery, cfg.Queue)
	if err != nil {
		return nil, err
	}
	profileQueue, err := queue.New(st.DB(), queue.TableProfile, cfg.Queue)
	if err != nil {
		return nil, err
	}

	scr, err := scraper.New(cfg.Scraper, manager, st)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		store: st,
		frontend: frontend.New(
			cfg.Frontend,
			st,
			searchclient.New(cfg.Search, gate),
			scr,
			discoveryQueue,
			profileQueue,
		),
	}

	agent := discovery.NewAgent(cfg.Discovery, manager)
	extractor := profile.NewExtractor(cfg.Profile, manager)
	for i := 0; i < cfg.Worker.Workers; i++ {
		a.workers = append(a.workers,
			worker.New(cfg.Worker, discoveryQueue, worker.DiscoveryHandler(st, agent)),
			worker.New(cfg.Worker, profileQueue, worker.ProfileHandler(st, extractor)),
		)
	}
	return a, nil
}

func (a *App) Run() error {
	ctx := context.Background()

	if a.cfg.Store.MigrateOnStart {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}

	manager, err := services.NewManager(a.workers...)
	if err != nil {
		return errors.Wrap(err, "building service manager")
	}
	watcher := services.NewFailureWatcher()
	watcher.WatchManager(manager)
	if err := services.StartManagerAndAwaitHealthy(ctx, manager); err != nil {
		return errors.Wrap(err, "starting workers")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", a.frontend.Handler())
	srv := &http.Server{
		Addr:         a.cfg.HTTPListenAddress,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: 10 * time.Minute, // inline scrape can be slow
	}

	srvErr := make(chan error, 1)
	go func() {
		level.Info(log.Logger).Log("msg", "http server listening", "addr", a.cfg.HTTPListenAddress)
		srvErr <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		level.Info(log.Logger).Log("msg", "shutting down", "signal", sig.String())
	case err := <-watcher.Chan():
		level.Error(log.Logger).Log("msg", "worker failed", "err", err)
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			level.Error(log.Logger).Log("msg", "http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := services.StopManagerAndAwaitStopped(shutdownCtx, manager); err != nil {
		level.Warn(log.Logger).Log("msg", "stopping workers", "err", err)
	}
	return a.store.Close()
}
