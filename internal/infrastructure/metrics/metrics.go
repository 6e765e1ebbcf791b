package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts processed turns by terminal state.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_api",
		Name:      "turns_total",
		Help:      "Processed turns by terminal state.",
	}, []string{"state"})

	// TurnDuration observes end-to-end turn processing time.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat_api",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn processing time.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// SpendRecorded accumulates settled spend by group.
	SpendRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_api",
		Name:      "spend_recorded_total",
		Help:      "Settled spend in account currency by group.",
	}, []string{"group"})

	// SpendWriteConflicts counts lost optimistic writes, including retried
	// ones.
	SpendWriteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_api",
		Name:      "spend_write_conflicts_total",
		Help:      "Optimistic spend writes that lost their race.",
	})

	// StreamEventsDropped counts events discarded as stale or undeliverable.
	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_api",
		Name:      "stream_events_dropped_total",
		Help:      "Streaming events dropped as stale or undeliverable.",
	})

	// ModerationVerdicts counts moderation outcomes.
	ModerationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_api",
		Name:      "moderation_verdicts_total",
		Help:      "Moderation outcomes.",
	}, []string{"verdict"})
)

// Server serves the prometheus scrape endpoint.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics endpoint on the given port.
func NewServer(port string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving until the server is shut down.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
