package httpclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var collaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "verbapost",
	Name:      "collaborator_request_duration_seconds",
	Help:      "Latency of calls to external collaborators, including retries.",
	Buckets:   prometheus.DefBuckets,
}, []string{"service", "outcome"})

func observe(service string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	collaboratorDuration.WithLabelValues(service, outcome).Observe(elapsed.Seconds())
}
