package reconciler

import "biopass/internal/domain"

// Policy turns the two sub-verification outcomes into a terminal decision.
// The threshold and the timeout stance are configuration. AcceptOnTimeout
// controls whether a passing device assertion alone is sufficient when the
// recognition service never answered; when accepted, the decision carries a
// reduced-assurance marker so audit can tell it apart from a full
// dual-factor verification.
type Policy struct {
	ScoreThreshold  float64
	AcceptOnTimeout bool
}

func DefaultPolicy() Policy {
	return Policy{ScoreThreshold: 0.85, AcceptOnTimeout: true}
}

// Ready reports whether the session holds enough evidence to decide. An
// assertion failure is conclusive on its own; anything else needs both
// outcomes resolved.
func (p Policy) Ready(s domain.VerificationSession) bool {
	if s.DeviceAssertionOutcome == domain.OutcomeFail {
		return true
	}
	return s.DeviceAssertionOutcome != domain.OutcomePending &&
		s.RecognitionOutcome != domain.OutcomePending
}

// Decide evaluates the decision table. Callers must check Ready first; the
// fallthrough for incomplete evidence is rejection, never a pass.
func (p Policy) Decide(s domain.VerificationSession) (domain.Decision, bool) {
	if s.DeviceAssertionOutcome == domain.OutcomeFail {
		return domain.DecisionRejected, false
	}
	if s.DeviceAssertionOutcome == domain.OutcomePass {
		switch s.RecognitionOutcome {
		case domain.OutcomePass:
			if s.RecognitionScore >= p.ScoreThreshold {
				return domain.DecisionVerified, false
			}
		case domain.OutcomeTimeout:
			if p.AcceptOnTimeout {
				return domain.DecisionVerified, true
			}
		}
	}
	return domain.DecisionRejected, false
}
