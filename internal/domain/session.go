package domain

import "time"

// SessionState is the reconciler's state machine position for one session.
type SessionState string

const (
	StateInit            SessionState = "INIT"
	StateAwaitingResults SessionState = "AWAITING_RESULTS"
	StateDecided         SessionState = "DECIDED"
	StateExpired         SessionState = "EXPIRED"
)

// SubOutcome is the result of one sub-verification. Recognition may also be
// OutcomeTimeout, which the decision policy treats as a soft failure rather
// than a hard rejection.
type SubOutcome string

const (
	OutcomePending SubOutcome = "pending"
	OutcomePass    SubOutcome = "pass"
	OutcomeFail    SubOutcome = "fail"
	OutcomeTimeout SubOutcome = "timeout"
)

// Decision is the terminal verdict of a decided session.
type Decision string

const (
	DecisionVerified Decision = "verified"
	DecisionRejected Decision = "rejected"
)

// VerificationSession tracks one in-flight reconciliation. Mutated only
// through the session store's atomic Update; terminal states are immutable.
type VerificationSession struct {
	SessionID   SessionID
	UserID      UserID
	ChallengeID ChallengeID
	State       SessionState

	DeviceAssertionOutcome SubOutcome
	RecognitionOutcome     SubOutcome
	RecognitionDispatched  bool // duplicate-submission guard, set exactly once
	RecognitionScore       float64

	Decision         Decision
	ReducedAssurance bool // verified without the secondary recognition check

	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
	DecidedAt *time.Time
}

// Terminal reports whether the session reached a state no further inbound
// result may change.
func (s VerificationSession) Terminal() bool {
	return s.State == StateDecided || s.State == StateExpired
}
