package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	Repetitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mtf",
		Subsystem: "ensemble",
		Name:      "repetitions_total",
		Help:      "Total fitted pseudo-data sets by fit status",
	}, []string{"status"})

	EngineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mtf",
		Subsystem: "ensemble",
		Name:      "engine_failures_total",
		Help:      "Total hard fit engine faults (each aborts its run)",
	})

	FitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mtf",
		Subsystem: "ensemble",
		Name:      "fit_duration_seconds",
		Help:      "Duration of a single fit engine invocation",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"mode"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves Handler on addr in the background. The returned
// function shuts the server down.
func StartServer(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics endpoint shutdown")
		}
	}
}
