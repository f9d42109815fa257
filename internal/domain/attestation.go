package domain

import "time"

// AttestationStatus is the three-state ledger resource lifecycle: submitted,
// then confirmed once enough confirmations are observed, or failed when the
// polling budget runs out.
type AttestationStatus string

const (
	AttestationSubmitted AttestationStatus = "submitted"
	AttestationConfirmed AttestationStatus = "confirmed"
	AttestationFailed    AttestationStatus = "failed"
)

// Attestation is the durable record of a verification decision submitted to
// the ledger. Immutable once confirmed; only confirmation polling mutates it.
type Attestation struct {
	AttestationID    AttestationID
	UserID           UserID
	SessionID        SessionID
	Decision         Decision
	ReducedAssurance bool
	LedgerTxRef      string
	Confirmations    uint64
	Status           AttestationStatus
	SubmittedAt      time.Time
	ConfirmedAt      *time.Time
}
