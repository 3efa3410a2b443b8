package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"netinventory/internal/logger"
)

// DefaultRequestTimeout bounds every API request except the event stream
const DefaultRequestTimeout = 10 * time.Second

// RouterOptions wires the HTTP surface
type RouterOptions struct {
	Devices        *DeviceHandler
	Events         http.Handler // SSE stream, optional
	Log            logger.Logger
	Version        string
	StartTime      time.Time
	RequestTimeout time.Duration
}

// NewRouter builds the chi router with middlewares and all routes
func NewRouter(opts RouterOptions) chi.Router {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(log))

	r.Get("/healthz", healthz(opts.Version, opts.StartTime))

	d := opts.Devices
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Post("/devices/upsert", d.UpsertDevice)
			r.Post("/devices", d.CreateDevice)
			r.Get("/devices", d.ListDevices)
			r.Get("/devices/{id}", d.GetDevice)
			r.Patch("/devices/{id}", d.UpdateDevice)
			r.Delete("/devices/{id}", d.DeleteDevice)
			r.Get("/devices/{id}/history", d.GetHistory)

			r.Get("/export", d.Export)

			r.Post("/scans", d.TriggerScan)
			r.Get("/scans", d.ScanStatus)
		})

		if opts.Events != nil {
			r.Get("/events", opts.Events.ServeHTTP)
		}
	})

	return r
}

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
}

func healthz(version string, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(healthzResponse{
			Status:        "ok",
			Version:       version,
			UptimeSeconds: time.Since(start).Seconds(),
		})
	}
}

// Server wraps the HTTP server
type Server struct {
	http   *http.Server
	logger logger.Logger
}

// NewServer creates a server for handler on addr. There is no write timeout
// because the event stream is long lived; API routes carry their own.
func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger: log,
	}
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", logger.String("addr", ln.Addr().String()))
	err := s.http.Serve(ln)
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
