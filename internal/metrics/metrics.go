package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Pass metrics
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_passes_total",
			Help: "Total reconciliation passes by result",
		},
		[]string{"result"},
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shibasync_pass_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	PassRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shibasync_pass_running",
			Help: "1 while a reconciliation pass is executing",
		},
	)

	LastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shibasync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful pass",
		},
	)

	// Record metrics
	RecordsUpdated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_records_updated_total",
			Help: "Datastore records written back",
		},
		[]string{"table"},
	)

	RecordWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_record_write_errors_total",
			Help: "Datastore write failures",
		},
		[]string{"table"},
	)

	UsersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_users_skipped_total",
			Help: "Users skipped during a pass",
		},
		[]string{"reason"},
	)

	// Upstream metrics
	DatastoreRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_datastore_requests_total",
			Help: "Requests sent to the datastore API",
		},
		[]string{"table", "method", "status"},
	)

	ActivityRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_activity_requests_total",
			Help: "Requests sent to the activity API",
		},
		[]string{"endpoint", "status"},
	)

	SpanProjectsOmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shibasync_span_projects_omitted_total",
			Help: "Projects whose spans could not be fetched",
		},
	)

	RateLimitRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shibasync_rate_limit_retries_total",
			Help: "Retries caused by rate-limit responses",
		},
		[]string{"target"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PassesTotal,
		PassDuration,
		PassRunning,
		LastSuccess,
		RecordsUpdated,
		RecordWriteErrors,
		UsersSkipped,
		DatastoreRequests,
		ActivityRequests,
		SpanProjectsOmitted,
		RateLimitRetries,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
