package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/eleven-am/crosslink/internal/domain"
)

// HealthChecker publishes serving status for the remote cluster service on
// the standard gRPC health endpoint.
type HealthChecker struct {
	logger   *slog.Logger
	server   *health.Server
	mu       sync.RWMutex
	services map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		logger:   logger.With("component", "health-checker"),
		server:   health.NewServer(),
		services: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
}

func (h *HealthChecker) SetServiceStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.services[service] = status
	h.server.SetServingStatus(service, status)
	h.logger.Debug("service status updated", "service", service, "status", status.String())
}

func (h *HealthChecker) GetServiceStatus(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, exists := h.services[service]; exists {
		return status
	}
	return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
}

func (h *HealthChecker) Serving() {
	h.SetServiceStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServiceStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

func (h *HealthChecker) NotServing() {
	h.SetServiceStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.SetServiceStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

func (h *HealthChecker) Server() grpc_health_v1.HealthServer {
	return h.server
}

func ping(ctx context.Context, client grpc_health_v1.HealthClient) error {
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return domain.Error{
			Type:    domain.ErrorTypeUnavailable,
			Message: fmt.Sprintf("remote service is %s", resp.GetStatus()),
		}
	}
	return nil
}

func errConnectionClosed(endpoint string) error {
	return domain.Error{
		Type:    domain.ErrorTypeUnavailable,
		Message: "connection to " + endpoint + " is closed",
		Details: map[string]interface{}{"endpoint": endpoint},
		Cause:   domain.ErrClosed,
	}
}
