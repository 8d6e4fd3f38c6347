// Package metrics exposes Prometheus metrics for the provisioning service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves a dedicated registry on its own listener.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	// Provisioning is registered on the server registry.
	Provisioning *ProvisioningMetrics
}

// New creates a metrics server listening on addr. An empty addr yields a
// server that only collects.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	pm, err := NewProvisioningMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	ms := &MetricsServer{registry: registry, Provisioning: pm}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", ms.Handler())
		ms.srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return ms, nil
}

// Registry returns the registry backing the server.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ListenAndServe blocks until the server is shut down.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
