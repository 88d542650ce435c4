package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "fuseki_kafka",
		Name:      "records_dispatched_total",
		Help:      "Records successfully applied to the sink.",
	}, []string{"topic"})

	DispatchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "fuseki_kafka",
		Name:      "dispatch_retries_total",
		Help:      "Dispatch attempts that failed transiently and were retried.",
	}, []string{"topic"})

	RecordsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "fuseki_kafka",
		Name:      "records_rejected_total",
		Help:      "Records the sink rejected as invalid.",
	}, []string{"topic"})

	PollFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "fuseki_kafka",
		Name:      "poll_failures_total",
		Help:      "Failed polls against the log.",
	}, []string{"topic"})

	CommittedOffset = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "fuseki_kafka",
		Name:      "committed_offset",
		Help:      "Last offset durably persisted per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(RecordsDispatched, DispatchRetries, RecordsRejected, PollFailures, CommittedOffset)
}

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
