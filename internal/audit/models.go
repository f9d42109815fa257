package audit

import "time"

// Actions cover every security-relevant transition in the verification
// pipeline. The stream is append-only; consumers must never rely on updates.
const (
	ActionChallengeIssued       = "challenge.issued"
	ActionRegistrationCompleted = "registration.completed"
	ActionCredentialRevoked     = "credential.revoked"
	ActionSessionStarted        = "session.started"
	ActionSessionDecided        = "session.decided"
	ActionSessionExpired        = "session.expired"
	ActionLateResultIgnored     = "session.late_result_ignored"
	ActionAttestationSubmitted  = "attestation.submitted"
	ActionAttestationConfirmed  = "attestation.confirmed"
	ActionAttestationFailed     = "attestation.failed"
	ActionInvariantViolation    = "invariant.violation"
)

// Event is one audit record. Identifier fields are set where they apply and
// left empty otherwise; Decision and ReducedAssurance only accompany
// session.decided and attestation events.
type Event struct {
	ID               string    `json:"id"`
	Action           string    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	UserID           string    `json:"user_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	ChallengeID      string    `json:"challenge_id,omitempty"`
	AttestationID    string    `json:"attestation_id,omitempty"`
	Decision         string    `json:"decision,omitempty"`
	ReducedAssurance bool      `json:"reduced_assurance,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
}
