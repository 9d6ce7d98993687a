// Package metrics exposes the Prometheus instrumentation for the four core
// pipeline stages (normalize, cluster, correlate, change-stream bridge) plus
// an HTTP server to serve them, following the same promauto-registered
// global-vars shape the teacher's internal/metrics/metrics.go uses.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegismind_events_ingested_total",
			Help: "Total number of raw events accepted at the ingest boundary",
		},
		[]string{"source"},
	)

	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegismind_events_rejected_total",
			Help: "Total number of raw events rejected during normalization",
		},
		[]string{"reason"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegismind_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage (normalize, cluster, correlate)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	ActiveClusters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegismind_active_clusters",
		Help: "Current number of live (non-expired) clusters",
	})

	OpenIncidents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegismind_open_incidents",
		Help: "Current number of open incidents",
	})

	IncidentsBySeverityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegismind_incidents_by_severity_total",
			Help: "Total number of incidents created, by severity",
		},
		[]string{"severity"},
	)

	ChangeStreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegismind_changestream_reconnects_total",
		Help: "Total number of change-stream bridge reconnect attempts",
	})

	ChangeStreamUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegismind_changestream_up",
		Help: "1 if the change-stream bridge is currently connected, 0 otherwise",
	})

	FanoutDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegismind_fanout_delivered_total",
			Help: "Total number of notifications delivered to a fan-out observer",
		},
		[]string{"observer", "status"},
	)
)

// Server exposes /metrics and /health on a dedicated listener, separate
// from the gateway's ingest/query routes.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// NewServer builds a metrics Server bound to addr.
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		logger:     logger,
	}
}

// Start launches the metrics HTTP server in the background.
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"component": "metrics",
		"addr":      s.httpServer.Addr,
	}).Info("metrics_server_started")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics_server_error")
		}
	}()
	return nil
}

// Stop shuts the metrics HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("metrics_server_stopped")
	return s.httpServer.Close()
}
