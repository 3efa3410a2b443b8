package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netinventory/internal/adapter"
	"netinventory/internal/config"
	"netinventory/internal/discovery"
	"netinventory/internal/domain"
	"netinventory/internal/logger"
	"netinventory/internal/probe"
	"netinventory/internal/repository"
	"netinventory/internal/repository/memory"
	"netinventory/internal/repository/sqlite"
	"netinventory/internal/service"
	"netinventory/internal/submit"
)

const permissionHint = "ICMP needs root, CAP_NET_RAW or a ping_group_range that includes this user"

// app holds what every command needs after startup
type app struct {
	cfg      *config.Config
	log      logger.Logger
	store    repository.Store
	bus      *service.EventBus
	registry *service.Registry
}

func loadConfig() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if configPath != "" {
		cfg, path, err = config.LoadFromPath(configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// newApp loads config and the logger. With withRegistry it also opens the
// store and builds the registry on top of it.
func newApp(withRegistry bool) (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return nil, err
	}
	if path != "" {
		log.Debug("config loaded", logger.String("path", path))
	}

	a := &app{cfg: cfg, log: log}
	if !withRegistry {
		return a, nil
	}

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.bus = service.NewEventBus()
	a.registry = service.NewRegistry(a.store,
		service.WithEventBus(a.bus),
		service.WithLogger(log.With(logger.String("component", "registry"))),
		service.WithMissedThreshold(cfg.Registry.MissedThreshold()),
	)
	return a, nil
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.Registry.Store {
	case config.StoreMemory:
		return memory.New(), nil
	default:
		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
		}
		return repo, nil
	}
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close store", logger.Error(err))
		}
	}
	_ = a.log.Sync()
}

// submitter returns the configured path from discovery to the registry
func (a *app) submitter() submit.Submitter {
	var next submit.Submitter
	if a.cfg.Submit.Mode == config.SubmitHTTP {
		next = submit.NewHTTP(a.cfg.Registry.Endpoint, a.cfg.Submit.Timeout.Duration(), nil)
	} else {
		next = submit.NewLocal(a.registry)
	}
	return submit.NewRetrying(next, a.cfg.Submit.MaxAttempts, a.log.With(logger.String("component", "submit")))
}

// scheduler wires probe, scanner, orchestrator and runner for targets
func (a *app) scheduler(ctx context.Context, targets []discovery.Target, interval time.Duration) (*discovery.Scheduler, error) {
	log := a.log.With(logger.String("component", "discovery"))

	prober := probe.New(probe.Options{DNSServer: a.cfg.Probe.DNSServer, Logger: log})
	scanner, err := adapter.New(ctx, a.cfg.Scanner.Backend, prober, log, nmapOptions(a.cfg.Scanner)...)
	if err != nil {
		return nil, err
	}
	log.Info("port scanner ready", logger.String("backend", scanner.Name()))

	orch := discovery.NewOrchestrator(prober, scanner, discovery.Options{
		Ports:          a.cfg.Probe.Ports,
		FallbackPorts:  a.cfg.Probe.FallbackPorts,
		Workers:        a.cfg.Discovery.Workers,
		MaxHosts:       a.cfg.Discovery.MaxHosts,
		ICMPTimeout:    a.cfg.Probe.ICMPTimeout.Duration(),
		TCPTimeout:     a.cfg.Probe.TCPTimeout.Duration(),
		ResolveTimeout: a.cfg.Probe.ResolveTimeout.Duration(),
	}, log)

	var opts []discovery.RunnerOption
	if a.registry != nil {
		// Absence reconciliation needs the registry in process
		opts = append(opts, discovery.WithReconciler(a.registry))
	}
	if a.bus != nil {
		opts = append(opts, discovery.WithPublisher(a.bus))
	}
	runner := discovery.NewRunner(orch, a.submitter(), log, opts...)

	return discovery.NewScheduler(runner, targets, interval, log), nil
}

func nmapOptions(sc config.ScannerConfig) []adapter.NmapOption {
	opts := []adapter.NmapOption{
		adapter.WithConnectScan(sc.UseConnectScan()),
		adapter.WithServiceDetection(sc.ServiceDetection),
	}
	if sc.NmapPath != "" {
		opts = append(opts, adapter.WithBinaryPath(sc.NmapPath))
	}
	return opts
}

// targets converts configured targets, filling in the default site
func (a *app) targets() []discovery.Target {
	out := make([]discovery.Target, 0, len(a.cfg.Targets))
	for _, t := range a.cfg.Targets {
		site := t.Site
		if site == "" {
			site = a.cfg.Site
		}
		out = append(out, discovery.Target{CIDR: t.CIDR, Site: site})
	}
	return out
}

func permissionError(err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) {
		return fmt.Errorf("%w (%s)", err, permissionHint)
	}
	return err
}
