package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/queue"
)

// StartMetricsServer serves /metrics and /healthz on addr in a background
// goroutine and shuts down gracefully when ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}

// CollectQueueDepths periodically queries both queue depths and updates the
// QueueDepth gauges. Runs until ctx is cancelled.
func CollectQueueDepths(ctx context.Context, client *queue.Client, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := client.Depths(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to collect queue depths")
				continue
			}
			QueueDepth.WithLabelValues("process").Set(float64(stats.ProcessQueued))
			QueueDepth.WithLabelValues("upload").Set(float64(stats.UploadQueued))
		}
	}
}
