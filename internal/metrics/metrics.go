package metrics

import "github.com/prometheus/client_golang/prometheus"

var SendsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_sends_total",
		Help: "Total send attempts by outcome",
	},
	[]string{"outcome"},
)

var SendDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "campaign_send_duration_seconds",
		Help:    "Time taken by the external messaging provider per send",
		Buckets: prometheus.DefBuckets,
	},
)

var RestrictionBlockedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "campaign_restriction_blocked_total",
		Help: "Contacts excluded by the restriction pre-check",
	},
)

var ChannelAutoRemovalsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "campaign_channel_auto_removals_total",
		Help: "Channel bindings removed after hitting the failure threshold",
	},
)

var CampaignPausesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_pauses_total",
		Help: "Campaign pauses by reason",
	},
	[]string{"reason"},
)

var ReceiptsAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_receipts_applied_total",
		Help: "Delivery receipts applied by resulting status",
	},
	[]string{"status"},
)

func InitDispatchMetrics() {
	prometheus.MustRegister(SendsTotal)
	prometheus.MustRegister(SendDuration)
	prometheus.MustRegister(RestrictionBlockedTotal)
	prometheus.MustRegister(ChannelAutoRemovalsTotal)
	prometheus.MustRegister(CampaignPausesTotal)
}

func InitReceiptMetrics() {
	prometheus.MustRegister(ReceiptsAppliedTotal)
}
