package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the verification pipeline's Prometheus instruments. One
// instance per process; registration happens through promauto's default
// registry so /metrics picks everything up.
type Metrics struct {
	ChallengesIssued    *prometheus.CounterVec
	ChallengesConsumed  prometheus.Counter
	SessionsStarted     prometheus.Counter
	SessionsDecided     *prometheus.CounterVec
	SessionsExpired     prometheus.Counter
	RecognitionLatency  prometheus.Histogram
	RecognitionOutcomes *prometheus.CounterVec
	AttestationsTotal   *prometheus.CounterVec
	ConfirmPolls        prometheus.Counter
	InvariantViolations prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biopass_challenges_issued_total",
			Help: "Challenges issued, by ceremony purpose",
		}, []string{"purpose"}),
		ChallengesConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biopass_challenges_consumed_total",
			Help: "Challenges consumed by a verifier",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biopass_sessions_started_total",
			Help: "Verification sessions created",
		}),
		SessionsDecided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biopass_sessions_decided_total",
			Help: "Terminal decisions, by decision and assurance level",
		}, []string{"decision", "assurance"}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biopass_sessions_expired_total",
			Help: "Sessions that hit their TTL before a decision",
		}),
		RecognitionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "biopass_recognition_latency_seconds",
			Help:    "Round-trip latency of the external recognition service",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		RecognitionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biopass_recognition_outcomes_total",
			Help: "Recognition sub-verification outcomes",
		}, []string{"outcome"}),
		AttestationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biopass_attestations_total",
			Help: "Attestation lifecycle transitions, by status",
		}, []string{"status"}),
		ConfirmPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biopass_attestation_confirm_polls_total",
			Help: "Ledger confirmation polls performed",
		}),
		InvariantViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biopass_invariant_violations_total",
			Help: "Invariant violations detected; any nonzero value deserves an alert",
		}),
	}
}
