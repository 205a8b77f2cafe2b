package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"pkt.systems/pslog"
)

// metricsServer exposes client metrics in Prometheus format.
type metricsServer struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	listener net.Listener
	logger   pslog.Logger
}

func startMetricsServer(listen string, logger pslog.Logger) (*metricsServer, error) {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("telemetry: listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("telemetry.metrics.enabled", "listen", listener.Addr().String())
	return &metricsServer{
		provider: provider,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
		logger:   logger,
	}, nil
}

func (metrics *metricsServer) addr() string {
	if metrics == nil {
		return ""
	}
	return metrics.listener.Addr().String()
}

// serve blocks until ctx is done, then shuts the server and provider down.
func (metrics *metricsServer) serve(ctx context.Context) error {
	if metrics == nil {
		return nil
	}
	served := make(chan error, 1)
	go func() { served <- metrics.server.Serve(metrics.listener) }()

	select {
	case err := <-served:
		_ = metrics.provider.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.server.Shutdown(shutdownCtx); err != nil {
		metrics.logger.Warn("telemetry.metrics.shutdown_error", "error", err)
	}
	<-served
	return metrics.provider.Shutdown(shutdownCtx)
}
