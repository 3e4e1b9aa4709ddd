// Package grpc runs the gRPC health endpoint and probes it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for a set of named components. The
// overall status ("") is SERVING only while every component is.
type HealthServer struct {
	server *gogrpc.Server
	health *health.Server

	mu     sync.Mutex
	status map[string]bool
}

// NewHealthServer creates a health server. Components start NOT_SERVING.
func NewHealthServer(components ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	h := &HealthServer{server: server, health: healthServer, status: make(map[string]bool, len(components))}
	for _, component := range components {
		h.status[component] = false
		healthServer.SetServingStatus(component, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	h.refresh()
	return h
}

// SetServing records whether component is serving.
func (h *HealthServer) SetServing(component string, serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[component] = serving
	h.health.SetServingStatus(component, servingStatus(serving))
	h.refresh()
}

func (h *HealthServer) refresh() {
	all := true
	for _, serving := range h.status {
		all = all && serving
	}
	h.health.SetServingStatus("", servingStatus(all))
}

// Serve accepts connections on listener until ctx ends, then drains.
func (h *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("health listener is required")
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- h.server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	case <-ctx.Done():
		h.health.Shutdown()
		h.server.GracefulStop()
		<-serveErr
		return nil
	}
}

func servingStatus(serving bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if serving {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// WaitForHealth blocks until the health check for service reports SERVING or
// the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("waiting for gRPC health: %v", err)
			} else {
				logf("waiting for gRPC health: status %s", response.GetStatus().String())
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff = min(backoff*2, time.Second)
		}
	}
}
