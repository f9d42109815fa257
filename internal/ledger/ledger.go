package ledger

import "context"

// Client is the narrow interface to the append-only ledger. Submission is
// fire-and-forget: a returned txRef means the transaction was accepted into
// the mempool, nothing more. Confirmation is observed by polling. The ledger
// is eventually consistent; callers own retry and dedupe semantics.
type Client interface {
	// Submit sends an attestation payload and returns its transaction
	// reference.
	Submit(ctx context.Context, payload []byte) (txRef string, err error)

	// Confirmations reports how many confirmations a transaction has.
	// A transaction not yet mined (or unknown) reports zero without error;
	// absence is an expected intermediate state, not a failure.
	Confirmations(ctx context.Context, txRef string) (uint64, error)
}
