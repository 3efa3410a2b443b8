package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netinventory/internal/handler"
	"netinventory/internal/hub"
	"netinventory/internal/logger"
	"netinventory/internal/version"
)

var (
	serveListen      string
	serveNoDiscovery bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry API with scheduled discovery",
	Long: `Serve the registry HTTP API and SSE event stream. When discovery.interval
is set, the configured targets are swept on that interval; POST /api/scans
starts a sweep on demand.`,
	Example: `  # Serve on the configured address
  netinventory serve

  # Registry only, no local discovery
  netinventory serve --listen :9000 --no-discovery`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address override")
	serveCmd.Flags().BoolVar(&serveNoDiscovery, "no-discovery", false, "Disable scheduled and API-triggered sweeps")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveListen != "" {
		a.cfg.Server.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := hub.New(a.log.With(logger.String("component", "sse")))
	go events.Run(ctx)
	events.Attach(ctx, a.bus)

	devices := handler.NewDeviceHandler(a.registry, a.log)
	devices.SetDefaultSite(a.cfg.Site)

	if !serveNoDiscovery {
		sched, err := a.scheduler(ctx, a.targets(), a.cfg.Discovery.Interval.Duration())
		if err != nil {
			return err
		}
		devices.SetScanTrigger(ctx, sched)
		go sched.Start(ctx)
	}

	router := handler.NewRouter(handler.RouterOptions{
		Devices:   devices,
		Events:    events,
		Log:       a.log.With(logger.String("component", "http")),
		Version:   version.Version,
		StartTime: time.Now(),
	})
	srv := handler.NewServer(a.cfg.Server.Listen, router, a.log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		a.log.Warn("graceful shutdown failed", logger.Error(err))
		return err
	}
	return <-errCh
}
