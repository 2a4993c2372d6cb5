package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/repository"
)

// Server exposes the status endpoints on a local address.
type Server struct {
	hub    *Hub
	logger *logger.Logger
	srv    *http.Server
}

// Sources are the read-only views the server exposes. Images and LogDir are optional.
type Sources struct {
	Health  HealthSource
	Images  repository.ImageRepository
	Metrics *metrics.Metrics
	LogDir  string
}

func NewServer(addr string, hub *Hub, src Sources, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{hub: hub, logger: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           SetupRoutes(hub, src, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetupRoutes registers the status endpoints.
func SetupRoutes(hub *Hub, src Sources, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", HealthHandler(src.Health))
	mux.HandleFunc("/api/images", ImagesHandler(src.Images, log))
	mux.HandleFunc("/ws", LiveHandler(hub, log))
	if reg := src.Metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	// Log routes
	if src.LogDir != "" {
		mux.HandleFunc("/logs/info", LogFileHandler(src.LogDir, "info.log"))
		mux.HandleFunc("/logs/warning", LogFileHandler(src.LogDir, "warning.log"))
		mux.HandleFunc("/logs/error", LogFileHandler(src.LogDir, "error.log"))
	}

	return mux
}

// Start binds the listener and serves in the background. The hub runs until ctx is done.
func (s *Server) Start(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}

	go s.hub.Run(ctx)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped: %v", err)
		}
	}()

	s.logger.Info("Status server listening on %s", ln.Addr())
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
