// Package metrics exposes Prometheus metrics over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the /metrics endpoint for Prometheus scraping.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the named service listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	if name == "" {
		return nil, fmt.Errorf("metrics server requires a service name")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Counters for the share-access API, scraped via /metrics.
var (
	ShareValidationsTotal   = metrics.NewCounter(`docsafe_share_validations_total`)
	ShareValidationFailures = metrics.NewCounter(`docsafe_share_validation_failures_total`)
	ShareValidationDenied   = metrics.NewCounter(`docsafe_share_validation_denied_total`)
)
