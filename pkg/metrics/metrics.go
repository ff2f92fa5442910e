// Package metrics exposes loader metrics in Prometheus format.
//
// All collectors are registered with the default registry at init through
// promauto; Serve publishes them on /metrics.
//
// # Basic Usage
//
//	metrics.RecordsBuffered.WithLabelValues("public-orders").Inc()
//
//	timer := metrics.NewTimer("load")
//	load(batch)
//	metrics.FlushStepDuration.WithLabelValues("load").Observe(timer.Stop().Seconds())
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// RecordsBuffered counts records accepted into stream buffers.
	// Labels: stream
	RecordsBuffered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsloader_records_buffered_total",
			Help: "Total number of records buffered",
		},
		[]string{"stream"},
	)

	// Flushes counts finished flush tasks.
	// Labels: stream, status (committed/failed)
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsloader_flushes_total",
			Help: "Total number of finished flush tasks",
		},
		[]string{"stream", "status"},
	)

	// FlushStepDuration tracks how long each flush step takes in seconds.
	// Labels: step (stage/migrate/load)
	FlushStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rsloader_flush_step_duration_seconds",
			Help:    "Duration of flush steps in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	// RowsLoaded counts rows committed to target tables.
	// Labels: table, mode (merge/append)
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsloader_rows_loaded_total",
			Help: "Total number of rows committed to the warehouse",
		},
		[]string{"table", "mode"},
	)

	// StageBytes counts bytes uploaded as stage files.
	StageBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsloader_stage_bytes_total",
			Help: "Total bytes written to stage storage",
		},
		[]string{"stream"},
	)

	// SchemaChanges counts columns added or widened.
	// Labels: table, change (added/widened)
	SchemaChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsloader_schema_changes_total",
			Help: "Total number of column additions and widenings",
		},
		[]string{"table", "change"},
	)

	// ActiveFlushes tracks flush tasks past PENDING.
	ActiveFlushes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rsloader_active_flushes",
			Help: "Number of flush tasks currently running",
		},
	)

	// PendingCheckpoints tracks checkpoints waiting for their flushes.
	PendingCheckpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rsloader_pending_checkpoints",
			Help: "Number of checkpoints not yet acknowledged",
		},
	)

	// CheckpointsEmitted counts acknowledged checkpoints.
	CheckpointsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rsloader_checkpoints_emitted_total",
			Help: "Total number of checkpoints acknowledged",
		},
	)
)

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed time since creation. It can be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveStep records the duration of a flush step.
func ObserveStep(step string, d time.Duration) {
	FlushStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// Serve publishes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
