package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	turnDurationBucketStart  = 0.5
	turnDurationBucketFactor = 2.0
	turnDurationBucketCount  = 12
)

const (
	generateDurationBucketStart  = 0.25
	generateDurationBucketFactor = 2.0
	generateDurationBucketCount  = 10
)

var TurnDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "turn_duration_seconds",
		Help: "Time taken to process one conversation turn",
		Buckets: prometheus.ExponentialBuckets(
			turnDurationBucketStart,
			turnDurationBucketFactor,
			turnDurationBucketCount,
		),
	},
)

var GenerateDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "generate_duration_seconds",
		Help: "Time taken by one language model generation attempt",
		Buckets: prometheus.ExponentialBuckets(
			generateDurationBucketStart,
			generateDurationBucketFactor,
			generateDurationBucketCount,
		),
	},
	[]string{"provider"},
)

var GenerationFallbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generation_fallbacks_total",
		Help: "Generation attempts that fell through to an alternate model",
	},
	[]string{"provider"},
)

var DuplicatesAbsorbed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "inbound_duplicates_absorbed_total",
		Help: "Inbound webhook deliveries dropped by the dedup window",
	},
)

var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Messages currently waiting in the intake queue",
	},
)

var TerminalDrops = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "terminal_drops_total",
		Help: "Messages dropped after exhausting all turn attempts",
	},
)

var FollowupsDelivered = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "followups_delivered_total",
		Help: "Deferred messages delivered by the sweep loop",
	},
)

var DuplicateTurnCandidates = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "turn_duplicate_candidates_total",
		Help: "Turns whose idempotency key was already used, indicating a lock expiry race",
	},
)

func init() {
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(GenerateDuration)
	prometheus.MustRegister(GenerationFallbacks)
	prometheus.MustRegister(DuplicatesAbsorbed)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TerminalDrops)
	prometheus.MustRegister(FollowupsDelivered)
	prometheus.MustRegister(DuplicateTurnCandidates)
}
