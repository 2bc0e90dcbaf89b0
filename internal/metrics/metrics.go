package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "serverguard"

var (
	FilteredMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "filtered_messages_total",
		Help:      "Messages removed by the filter pipeline",
	}, []string{"reason"})

	FilterNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "filter_notices_total",
		Help:      "Informational classifier notices below the removal threshold",
	}, []string{"category"})

	SweepProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "sweep_processed_total",
		Help:      "Expired status records processed by the sweep",
	}, []string{"type", "outcome"})

	StatusCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "status_created_total",
		Help:      "Status records created",
	}, []string{"type"})

	BlocklistEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "blocklist_entries",
		Help:      "URLs in the current malicious-URL snapshot",
	})

	SpamBursts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "spam_bursts_total",
		Help:      "Spam windows that reached their limit",
	})
)

func IncFiltered(reason string) {
	FilteredMessages.WithLabelValues(reason).Inc()
}

func IncNotice(category string) {
	FilterNotices.WithLabelValues(category).Inc()
}

func IncSweep(recordType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "platform_error"
	}
	SweepProcessed.WithLabelValues(recordType, outcome).Inc()
}
