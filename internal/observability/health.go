package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// UpstreamService is the gRPC health service name tracking the REST proxy
const UpstreamService = "probe.upstream"

// HealthChecker manages readiness for gRPC and HTTP and owns the HTTP server
type HealthChecker struct {
	grpcHealth    *health.Server
	httpServer    *http.Server
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	upstreamReady bool
	usesUpstream  bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		grpcHealth: health.NewServer(),
		logger:     logger,
		ready:      true,
	}
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.grpcHealth.SetServingStatus(UpstreamService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Serve runs the HTTP server with handler until Shutdown
func (h *HealthChecker) Serve(addr string, handler http.Handler) error {
	h.mu.Lock()
	h.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := h.httpServer
	h.mu.Unlock()

	h.logger.Info("starting HTTP server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.grpcHealth.Shutdown()
	srv := h.httpServer
	h.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// SetUpstreamReady records whether the consumer session reached the REST proxy
func (h *HealthChecker) SetUpstreamReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upstreamReady = ready
	h.usesUpstream = true

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus(UpstreamService, status)
}

// Ready reports process readiness
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	// Readiness passes if ready is true and (upstream untouched or upstream ready)
	return h.ready && (!h.usesUpstream || h.upstreamReady)
}

// HandleHealthz answers OK when ready and 503 otherwise
func (h *HealthChecker) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.Ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
	}
}
