package attestation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopass/internal/audit"
	"biopass/internal/domain"
	dErrors "biopass/pkg/domainerrors"
)

// fakeLedger simulates an eventually consistent ledger: submissions return a
// txRef, confirmations are whatever the test pins per transaction.
type fakeLedger struct {
	mu        sync.Mutex
	submits   int
	confs     map[string]uint64
	submitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{confs: make(map[string]uint64)}
}

func (f *fakeLedger) Submit(context.Context, []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	return fmt.Sprintf("0xtx%d", f.submits), nil
}

func (f *fakeLedger) Confirmations(_ context.Context, txRef string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confs[txRef], nil
}

func (f *fakeLedger) setConfirmations(txRef string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confs[txRef] = n
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func decidedSession() domain.VerificationSession {
	now := time.Now().UTC()
	return domain.VerificationSession{
		SessionID:              domain.NewSessionID(),
		UserID:                 domain.NewUserID(),
		ChallengeID:            domain.NewChallengeID(),
		State:                  domain.StateDecided,
		DeviceAssertionOutcome: domain.OutcomePass,
		RecognitionOutcome:     domain.OutcomePass,
		RecognitionScore:       0.97,
		Decision:               domain.DecisionVerified,
		CreatedAt:              now.Add(-time.Minute),
		ExpiresAt:              now.Add(time.Minute),
		DecidedAt:              &now,
	}
}

func newTestService(t *testing.T, ledger *fakeLedger, opts ...Option) (*Service, *audit.MemoryPublisher) {
	t.Helper()
	publisher := audit.NewMemoryPublisher()
	opts = append([]Option{
		WithPollSchedule(10*time.Millisecond, 5),
		WithRequiredConfirmations(3),
		WithAuditPublisher(publisher),
	}, opts...)
	svc, err := New(NewMemoryStore(), ledger, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, publisher
}

func TestAttest(t *testing.T) {
	ctx := context.Background()

	t.Run("submits a decided session and confirms once buried", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, publisher := newTestService(t, ledger)

		att, err := svc.Attest(ctx, decidedSession())
		require.NoError(t, err)
		assert.Equal(t, domain.AttestationSubmitted, att.Status)
		assert.Equal(t, "0xtx1", att.LedgerTxRef)

		ledger.setConfirmations("0xtx1", 4)
		require.Eventually(t, func() bool {
			got, err := svc.Get(ctx, att.SessionID)
			return err == nil && got.Status == domain.AttestationConfirmed
		}, 2*time.Second, 5*time.Millisecond)

		got, err := svc.Get(ctx, att.SessionID)
		require.NoError(t, err)
		assert.EqualValues(t, 4, got.Confirmations)
		assert.NotNil(t, got.ConfirmedAt)

		assert.Len(t, publisher.ByAction(audit.ActionAttestationSubmitted), 1)
		assert.Len(t, publisher.ByAction(audit.ActionAttestationConfirmed), 1)
	})

	t.Run("one attestation per session", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)
		sess := decidedSession()

		first, err := svc.Attest(ctx, sess)
		require.NoError(t, err)
		second, err := svc.Attest(ctx, sess)
		require.NoError(t, err)

		assert.Equal(t, first.AttestationID, second.AttestationID)
		assert.Equal(t, 1, ledger.submitCount())
	})

	t.Run("refuses non-decided sessions", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, publisher := newTestService(t, ledger)

		expired := decidedSession()
		expired.State = domain.StateExpired
		_, err := svc.Attest(ctx, expired)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		pending := decidedSession()
		pending.State = domain.StateAwaitingResults
		_, err = svc.Attest(ctx, pending)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		assert.Zero(t, ledger.submitCount())

		violations := publisher.ByAction(audit.ActionInvariantViolation)
		require.Len(t, violations, 2)
		assert.Equal(t, expired.SessionID.String(), violations[0].SessionID)
		assert.Contains(t, violations[0].Reason, string(domain.StateExpired))
	})

	t.Run("failed submission is recorded for resubmission", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.submitErr = errors.New("rpc unreachable")
		svc, publisher := newTestService(t, ledger)

		att, err := svc.Attest(ctx, decidedSession())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransientFailure))
		assert.Equal(t, domain.AttestationFailed, att.Status)

		got, err := svc.Get(ctx, att.SessionID)
		require.NoError(t, err)
		assert.Equal(t, domain.AttestationFailed, got.Status)
		assert.Len(t, publisher.ByAction(audit.ActionAttestationFailed), 1)
	})

	t.Run("marks failed when confirmations never accumulate", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)

		att, err := svc.Attest(ctx, decidedSession())
		require.NoError(t, err)

		// Confirmations stay at zero; the polling budget runs out.
		require.Eventually(t, func() bool {
			got, err := svc.Get(ctx, att.SessionID)
			return err == nil && got.Status == domain.AttestationFailed
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestResubmit(t *testing.T) {
	ctx := context.Background()

	// Drives an attestation to failed with its transaction still unmined.
	failedAttestation := func(t *testing.T, svc *Service, ledger *fakeLedger) domain.Attestation {
		t.Helper()
		att, err := svc.Attest(ctx, decidedSession())
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			got, err := svc.Get(ctx, att.SessionID)
			return err == nil && got.Status == domain.AttestationFailed
		}, 2*time.Second, 5*time.Millisecond)
		got, err := svc.Get(ctx, att.SessionID)
		require.NoError(t, err)
		return got
	}

	t.Run("adopts a landed prior transaction instead of submitting again", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)
		att := failedAttestation(t, svc, ledger)

		// The earlier transaction turns out to have been mined after all.
		ledger.setConfirmations(att.LedgerTxRef, 5)

		updated, err := svc.Resubmit(ctx, att.AttestationID)
		require.NoError(t, err)
		assert.Equal(t, domain.AttestationConfirmed, updated.Status)
		assert.Equal(t, att.LedgerTxRef, updated.LedgerTxRef)
		assert.Equal(t, 1, ledger.submitCount())
	})

	t.Run("resumes polling a landed but shallow prior transaction", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)
		att := failedAttestation(t, svc, ledger)

		ledger.setConfirmations(att.LedgerTxRef, 1)

		updated, err := svc.Resubmit(ctx, att.AttestationID)
		require.NoError(t, err)
		assert.Equal(t, domain.AttestationSubmitted, updated.Status)
		assert.Equal(t, att.LedgerTxRef, updated.LedgerTxRef)
		assert.Equal(t, 1, ledger.submitCount())

		ledger.setConfirmations(att.LedgerTxRef, 3)
		require.Eventually(t, func() bool {
			got, err := svc.Get(ctx, att.SessionID)
			return err == nil && got.Status == domain.AttestationConfirmed
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("submits a new transaction when the prior one is absent", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)
		att := failedAttestation(t, svc, ledger)

		updated, err := svc.Resubmit(ctx, att.AttestationID)
		require.NoError(t, err)
		assert.Equal(t, domain.AttestationSubmitted, updated.Status)
		assert.Equal(t, "0xtx2", updated.LedgerTxRef)
		assert.Equal(t, 2, ledger.submitCount())

		ledger.setConfirmations("0xtx2", 3)
		require.Eventually(t, func() bool {
			got, err := svc.Get(ctx, att.SessionID)
			return err == nil && got.Status == domain.AttestationConfirmed
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("refuses attestations that are not failed", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)

		att, err := svc.Attest(ctx, decidedSession())
		require.NoError(t, err)

		_, err = svc.Resubmit(ctx, att.AttestationID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("unknown attestation", func(t *testing.T) {
		ledger := newFakeLedger()
		svc, _ := newTestService(t, ledger)

		_, err := svc.Resubmit(ctx, domain.NewAttestationID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
