package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	CapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitelayout_captures_total",
			Help: "Total number of page captures attempted",
		},
		[]string{"status", "exceeded_height", "detection_src"},
	)

	CaptureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitelayout_capture_duration_seconds",
			Help:    "Duration of page captures in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	CaptureScrollHeight = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitelayout_capture_scroll_height_pixels",
			Help:    "Final document height of captured pages",
			Buckets: prometheus.ExponentialBuckets(1440, 2, 8),
		},
	)

	SitesImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitelayout_sites_imported_total",
			Help: "Total number of hosts read from import sources",
		},
		[]string{"result"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitelayout_dedup_decisions_total",
			Help: "Total number of dedup decisions by outcome",
		},
		[]string{"outcome"},
	)

	OracleDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitelayout_oracle_distance",
			Help:    "Distribution of similarity distances returned by the oracle",
			Buckets: []float64{0, 5, 10, 20, 30, 40, 50, 75, 100, 200},
		},
	)

	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitelayout_oracle_requests_total",
			Help: "Total number of similarity oracle requests",
		},
		[]string{"status"},
	)

	OracleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitelayout_oracle_duration_seconds",
			Help:    "Duration of similarity oracle requests in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	OracleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitelayout_oracle_cache_total",
			Help: "Oracle distance cache lookups by result",
		},
		[]string{"result"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitelayout_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"stage", "status"},
	)
)

// RecordCapture updates the capture metrics from a saved screenshot row.
func RecordCapture(shot *storage.Screenshot) {
	if shot == nil {
		return
	}

	status := "ok"
	if shot.Failed {
		status = "failed"
	}

	CapturesTotal.WithLabelValues(status, strconv.FormatBool(shot.ExceededHeight), shot.DetectionSrc).Inc()
	CaptureDuration.WithLabelValues(status).Observe(shot.Elapsed.Seconds())
	if !shot.Failed {
		CaptureScrollHeight.Observe(float64(shot.ScrollHeight))
	}
}

// RecordImport counts one imported host. result is "created", "duplicate"
// or "invalid".
func RecordImport(result string) {
	SitesImportedTotal.WithLabelValues(result).Inc()
}

// RecordDecision counts one dedup decision.
func RecordDecision(outcome string) {
	DecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDistance records a distance returned by the oracle.
func ObserveDistance(distance float64) {
	OracleDistance.Observe(distance)
}

// RecordOracleRequest records one oracle round trip. status is the HTTP
// status code, or "error" when no response was received.
func RecordOracleRequest(status string, d time.Duration) {
	OracleRequestsTotal.WithLabelValues(status).Inc()
	OracleDuration.Observe(d.Seconds())
}

// RecordCacheLookup counts a distance cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	OracleCacheTotal.WithLabelValues(result).Inc()
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// Router returns the handler serving /metrics and /healthz.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// Start listens on addr and serves Router in the background.
func Start(addr string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	srv := &http.Server{
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s := &Server{srv: srv, ln: ln, logger: logger}
	logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return s, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
