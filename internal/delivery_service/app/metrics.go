package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendJobsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "send_jobs_received_total",
			Help:      "Total send jobs received from the task queue.",
		},
		[]string{"subject"},
	)

	sendJobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "send_jobs_processed_total",
			Help:      "Total send jobs processed.",
		},
		[]string{"kind", "status"}, // status: "success", "error_input", "error_config", "error_transport"
	)

	batchesSubmittedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "batches_submitted_total",
			Help:      "Total gateway batch wire calls submitted.",
		},
		[]string{"provider", "country"},
	)

	gatewayRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery",
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of HTTP requests to SMS gateways.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	outcomesRecordedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "outcomes_recorded_total",
			Help:      "Total recipient outcome rows written (per segment).",
		},
		[]string{"provider", "status"},
	)

	deliveryReportsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "reports_processed_total",
			Help:      "Total asynchronous delivery reports processed.",
		},
		[]string{"provider", "result"}, // result: "updated", "unknown_id", "error"
	)

	customerOptOutsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "customer_optouts_total",
			Help:      "Customers opted out after terminal delivery failures.",
		},
	)
)
