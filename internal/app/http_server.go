package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/flashsale/internal/health"
)

const httpShutdownTimeout = 5 * time.Second

// opsMux: служебные ручки, /metrics и три health-пробы.
func opsMux(probes *healthcheck.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", probes)
	mux.HandleFunc("GET /readyz", probes.Ready)
	mux.HandleFunc("GET /livez", healthcheck.Live)
	return mux
}

// startMetricsServer поднимает opsMux на addr и гасит его при отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, probes *healthcheck.Registry) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           opsMux(probes),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", addr).Info("ops http: /metrics /healthz /readyz /livez")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops http server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops http shutdown with error")
	}
}
