package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rehabstage/internal/domain"
)

// Recorder holds the exercise metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	CapturesStarted    *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	StageAdvances      *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
}

// NewRecorder creates and registers all metrics.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		CapturesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehabstage_captures_started_total",
			Help: "Total number of captures started, by media kind",
		}, []string{"media"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehabstage_submissions_total",
			Help: "Total number of finished submissions, by outcome",
		}, []string{"outcome"}),
		SubmissionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rehabstage_submission_duration_seconds",
			Help:    "Time from capture stop to verdict",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		StageAdvances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehabstage_stage_advances_total",
			Help: "Total number of stage advances, by reason",
		}, []string{"reason"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehabstage_events_published_total",
			Help: "Total number of session events published to the broker, by result",
		}, []string{"result"}),
	}
}

func (r *Recorder) CaptureStarted(kind domain.MediaKind) {
	r.CapturesStarted.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) SubmissionFinished(outcome string, elapsed time.Duration) {
	r.Submissions.WithLabelValues(outcome).Inc()
	r.SubmissionDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) StageAdvanced(reason domain.SessionStateReason) {
	r.StageAdvances.WithLabelValues(string(reason)).Inc()
}

// EventPublished counts broker publishes; ok is false for dropped events.
func (r *Recorder) EventPublished(ok bool) {
	result := "ok"
	if !ok {
		result = "dropped"
	}
	r.EventsPublished.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener starting", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
