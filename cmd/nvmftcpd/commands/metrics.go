package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/pkg/metrics"
)

// metricsHTTPServer exposes the process-wide Prometheus registry on
// /metrics, the one piece of the ambient stack that genuinely needs a
// plain net/http server (Prometheus scrapes over HTTP; there is no
// alternative transport for it in the examples).
type metricsHTTPServer struct {
	srv *http.Server
}

func newMetricsHTTPServer(port int) *metricsHTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	return &metricsHTTPServer{srv: srv}
}

func (m *metricsHTTPServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.srv.Shutdown(ctx)
}
