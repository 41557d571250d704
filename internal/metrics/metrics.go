// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync holds the collectors for the sync pipeline. Collectors are
// registered on the registry handed to New rather than the global one.
type Sync struct {
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	Messages          *prometheus.CounterVec
	ClassifierLatency prometheus.Histogram
	ClassifierCalls   *prometheus.CounterVec
	Reclassified      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Sync {
	s := &Sync{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_sync_runs_total",
			Help: "Sync runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailer_sync_run_duration_seconds",
			Help:    "Wall-clock duration of a sync run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_sync_messages_total",
			Help: "Messages handled by the sync pipeline by result.",
		}, []string{"result"}),
		ClassifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailer_classifier_call_duration_seconds",
			Help:    "Latency of classifier calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ClassifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_classifier_calls_total",
			Help: "Classifier calls by status.",
		}, []string{"status"}),
		Reclassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_reclassified_entries_total",
			Help: "Entries relabelled by the reclassify pass.",
		}, []string{"label"}),
	}
	reg.MustRegister(s.Runs, s.RunDuration, s.Messages, s.ClassifierLatency, s.ClassifierCalls, s.Reclassified)
	return s
}

// RunFinished records the outcome of a run. outcome is "ok" or "failed".
func (s *Sync) RunFinished(outcome string, d time.Duration, ingested, skipped, errored int) {
	s.Runs.WithLabelValues(outcome).Inc()
	s.RunDuration.Observe(d.Seconds())
	s.Messages.WithLabelValues("ingested").Add(float64(ingested))
	s.Messages.WithLabelValues("skipped").Add(float64(skipped))
	s.Messages.WithLabelValues("errored").Add(float64(errored))
}

// ClassifierCall implements classify.Observer.
func (s *Sync) ClassifierCall(seconds float64, err error) {
	s.ClassifierLatency.Observe(seconds)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.ClassifierCalls.WithLabelValues(status).Inc()
}

// EntryReclassified counts one relabelled entry.
func (s *Sync) EntryReclassified(label string) {
	s.Reclassified.WithLabelValues(label).Inc()
}

// Serve exposes the gatherer on addr at /metrics until the server fails.
func Serve(addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
