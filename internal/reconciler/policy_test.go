package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"biopass/internal/domain"
)

func TestPolicyReady(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name        string
		assertion   domain.SubOutcome
		recognition domain.SubOutcome
		ready       bool
	}{
		{"nothing resolved", domain.OutcomePending, domain.OutcomePending, false},
		{"only assertion passed", domain.OutcomePass, domain.OutcomePending, false},
		{"only recognition arrived", domain.OutcomePending, domain.OutcomePass, false},
		{"assertion failure is conclusive alone", domain.OutcomeFail, domain.OutcomePending, true},
		{"both resolved", domain.OutcomePass, domain.OutcomePass, true},
		{"pass plus timeout", domain.OutcomePass, domain.OutcomeTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := domain.VerificationSession{
				DeviceAssertionOutcome: tt.assertion,
				RecognitionOutcome:     tt.recognition,
			}
			assert.Equal(t, tt.ready, policy.Ready(sess))
		})
	}
}

func TestPolicyDecide(t *testing.T) {
	policy := Policy{ScoreThreshold: 0.85, AcceptOnTimeout: true}

	tests := []struct {
		name        string
		assertion   domain.SubOutcome
		recognition domain.SubOutcome
		score       float64
		decision    domain.Decision
		reduced     bool
	}{
		{"assertion fail rejects regardless of score", domain.OutcomeFail, domain.OutcomePass, 1.0, domain.DecisionRejected, false},
		{"assertion fail with recognition pending", domain.OutcomeFail, domain.OutcomePending, 0, domain.DecisionRejected, false},
		{"pass with score above threshold", domain.OutcomePass, domain.OutcomePass, 0.9, domain.DecisionVerified, false},
		{"pass with score exactly at threshold", domain.OutcomePass, domain.OutcomePass, 0.85, domain.DecisionVerified, false},
		{"pass with score just below threshold", domain.OutcomePass, domain.OutcomePass, 0.8499, domain.DecisionRejected, false},
		{"pass with recognition timeout", domain.OutcomePass, domain.OutcomeTimeout, 0, domain.DecisionVerified, true},
		{"pass with recognition fail", domain.OutcomePass, domain.OutcomeFail, 0, domain.DecisionRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := domain.VerificationSession{
				DeviceAssertionOutcome: tt.assertion,
				RecognitionOutcome:     tt.recognition,
				RecognitionScore:       tt.score,
			}
			decision, reduced := policy.Decide(sess)
			assert.Equal(t, tt.decision, decision)
			assert.Equal(t, tt.reduced, reduced)
		})
	}

	t.Run("timeout rejects when AcceptOnTimeout is off", func(t *testing.T) {
		strict := Policy{ScoreThreshold: 0.85, AcceptOnTimeout: false}
		sess := domain.VerificationSession{
			DeviceAssertionOutcome: domain.OutcomePass,
			RecognitionOutcome:     domain.OutcomeTimeout,
		}
		decision, reduced := strict.Decide(sess)
		assert.Equal(t, domain.DecisionRejected, decision)
		assert.False(t, reduced)
	})
}
