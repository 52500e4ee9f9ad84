package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful calls and items.
	OutcomeSuccess = "success"
	// OutcomeError labels failed calls and items.
	OutcomeError = "error"
	// OutcomeTimeout labels gateway calls that exceeded their deadline.
	OutcomeTimeout = "timeout"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "pipeline_runs_total",
			Help:      "Total number of analysis pipeline runs, partitioned by final state.",
		},
		[]string{"state"},
	)

	pipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_triage",
			Name:      "pipeline_seconds",
			Help:      "Pipeline latency in seconds, partitioned by pipeline kind.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180, 300},
		},
		[]string{"pipeline"},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "gateway_calls_total",
			Help:      "Text generation calls, partitioned by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)

	regenerationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "regenerations_total",
			Help:      "Test case regenerations triggered by validation feedback.",
		},
	)

	bulkItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "bulk_items_total",
			Help:      "Bulk job items processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	bulkJobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_triage",
			Name:      "bulk_jobs_active",
			Help:      "Bulk jobs with a running worker.",
		},
	)

	ticketFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "ticket_fetches_total",
			Help:      "Ticket source fetches, partitioned by outcome (cache hits included).",
		},
		[]string{"outcome"},
	)
)

// Register attaches mirador-triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		pipelineDurationSeconds,
		gatewayCallsTotal,
		regenerationsTotal,
		bulkItemsTotal,
		bulkJobsActive,
		ticketFetchesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePipeline records a pipeline run's duration and final state.
func ObservePipeline(pipeline string, duration time.Duration, state string) {
	if state != "" {
		pipelineRunsTotal.WithLabelValues(state).Inc()
	}
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// ObserveGatewayCall records one text generation call.
func ObserveGatewayCall(phase, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeTimeout:
	default:
		outcome = OutcomeError
	}
	gatewayCallsTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveRegeneration counts a regeneration.
func ObserveRegeneration() {
	regenerationsTotal.Inc()
}

// ObserveBulkItem counts one processed bulk item.
func ObserveBulkItem(success bool) {
	label := OutcomeSuccess
	if !success {
		label = OutcomeError
	}
	bulkItemsTotal.WithLabelValues(label).Inc()
}

// BulkJobStarted and BulkJobFinished track the number of running bulk workers.
func BulkJobStarted() { bulkJobsActive.Inc() }

// BulkJobFinished decrements the running bulk worker gauge.
func BulkJobFinished() { bulkJobsActive.Dec() }

// ObserveTicketFetch counts a ticket fetch by outcome ("success", "error", "cache_hit").
func ObserveTicketFetch(outcome string) {
	ticketFetchesTotal.WithLabelValues(outcome).Inc()
}
