package server

import (
	"BTCFiRisk/internal/config"
	"BTCFiRisk/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server hosts the gRPC health surface, the /v1 HTTP/JSON API and the
// Prometheus scrape endpoint.
type Server struct {
	cfg          config.ServerConfig
	grpcServer   *grpc.Server
	grpcHealth   *health.Server
	api          *API
	health       *observability.HealthChecker
	gatherer     prometheus.Gatherer
	logger       zerolog.Logger
	shutdownWait time.Duration
}

func NewServer(cfg config.ServerConfig, api *API, hc *observability.HealthChecker, gatherer prometheus.Gatherer) *Server {
	grpcServer := grpc.NewServer()

	// Health check
	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		cfg:          cfg,
		grpcServer:   grpcServer,
		grpcHealth:   grpcHealth,
		api:          api,
		health:       hc,
		gatherer:     gatherer,
		logger:       observability.NewLogger("server"),
		shutdownWait: 5 * time.Second,
	}
}

// SetServing flips the gRPC health status alongside HTTP readiness.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.grpcHealth.SetServingStatus("", st)
	if s.health != nil {
		s.health.SetReady(serving)
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.cfg.GRPCAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP handler: /healthz, /readyz and the /v1 API.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := s.api.Register(mux); err != nil {
		return nil, fmt.Errorf("register api routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.health != nil {
		httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("HTTP API listening")
	return s.serve(ctx, srv, "HTTP API")
}

// StartMetrics serves /metrics from the gatherer (blocking).
func (s *Server) StartMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.MetricsAddr).Msg("metrics server listening")
	return s.serve(ctx, srv, "metrics server")
}

func (s *Server) serve(ctx context.Context, srv *http.Server, name string) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msgf("%s shutting down", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownWait)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
