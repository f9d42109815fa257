package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopass/internal/assertion"
	"biopass/internal/audit"
	"biopass/internal/domain"
	"biopass/internal/recognition"
	"biopass/internal/session"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/sentinel"
)

type stubChallenges struct {
	mu       sync.Mutex
	issued   map[domain.ChallengeID]domain.Challenge
	consumed map[domain.ChallengeID]bool
}

func newStubChallenges() *stubChallenges {
	return &stubChallenges{
		issued:   make(map[domain.ChallengeID]domain.Challenge),
		consumed: make(map[domain.ChallengeID]bool),
	}
}

func (s *stubChallenges) add(ch domain.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[ch.ChallengeID] = ch
}

func (s *stubChallenges) Consume(_ context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.issued[id]
	if !ok {
		return domain.Challenge{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "unknown challenge")
	}
	if s.consumed[id] {
		return domain.Challenge{}, dErrors.Wrap(sentinel.ErrAlreadyConsumed, dErrors.CodeAlreadyConsumed, "challenge already consumed")
	}
	s.consumed[id] = true
	ch.Consumed = true
	return ch, nil
}

type stubVerifier struct {
	result assertion.Result
}

func (s *stubVerifier) Verify(context.Context, domain.Challenge, []byte, []byte, []byte) assertion.Result {
	return s.result
}

type stubGateway struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (domain.RecognitionResult, error)
}

func (s *stubGateway) Recognize(ctx context.Context, sessionID domain.SessionID, _ []byte) (domain.RecognitionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	res, err := s.fn(ctx)
	res.SessionID = sessionID
	return res, err
}

func (s *stubGateway) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAttester struct {
	mu       sync.Mutex
	sessions []domain.VerificationSession
}

func (s *stubAttester) Attest(_ context.Context, sess domain.VerificationSession) (domain.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return domain.Attestation{AttestationID: domain.NewAttestationID(), SessionID: sess.SessionID}, nil
}

func (s *stubAttester) attested() []domain.VerificationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.VerificationSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

type fixture struct {
	svc        *Service
	challenges *stubChallenges
	verifier   *stubVerifier
	gateway    *stubGateway
	attester   *stubAttester
	audit      *audit.MemoryPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		challenges: newStubChallenges(),
		verifier:   &stubVerifier{result: assertion.Result{Outcome: domain.OutcomePass}},
		gateway: &stubGateway{fn: func(context.Context) (domain.RecognitionResult, error) {
			return domain.RecognitionResult{Score: 0.95}, nil
		}},
		attester: &stubAttester{},
		audit:    audit.NewMemoryPublisher(),
	}
	opts = append([]Option{
		WithSessionTTL(time.Second),
		WithAuditPublisher(f.audit),
	}, opts...)
	svc, err := New(session.NewMemoryStore(), f.challenges, f.verifier, f.gateway, f.attester, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	f.svc = svc
	return f
}

func (f *fixture) newChallenge() domain.Challenge {
	now := time.Now().UTC()
	ch := domain.Challenge{
		ChallengeID: domain.NewChallengeID(),
		UserID:      domain.NewUserID(),
		Nonce:       []byte("0123456789abcdef0123456789abcdef"),
		Purpose:     domain.PurposeAssert,
		IssuedAt:    now,
		ExpiresAt:   now.Add(2 * time.Minute),
	}
	f.challenges.add(ch)
	return ch
}

func (f *fixture) waitTerminal(t *testing.T, id domain.SessionID) domain.VerificationSession {
	t.Helper()
	var sess domain.VerificationSession
	require.Eventually(t, func() bool {
		var err error
		sess, err = f.svc.Get(context.Background(), id)
		return err == nil && sess.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return sess
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the challenge and opens the session", func(t *testing.T) {
		f := newFixture(t)
		ch := f.newChallenge()

		sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)

		require.NoError(t, err)
		assert.Equal(t, domain.StateAwaitingResults, sess.State)
		assert.Equal(t, ch.UserID, sess.UserID)
		assert.Equal(t, domain.OutcomePending, sess.DeviceAssertionOutcome)
		assert.Equal(t, domain.OutcomePending, sess.RecognitionOutcome)
		assert.True(t, consumed.Consumed)
	})

	t.Run("second start with the same challenge loses the consume race", func(t *testing.T) {
		f := newFixture(t)
		ch := f.newChallenge()

		_, _, err := f.svc.Start(ctx, ch.ChallengeID)
		require.NoError(t, err)

		_, _, err = f.svc.Start(ctx, ch.ChallengeID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyConsumed))
	})

	t.Run("register challenge cannot open an assert ceremony", func(t *testing.T) {
		f := newFixture(t)
		ch := f.newChallenge()
		ch.Purpose = domain.PurposeRegister
		ch.ChallengeID = domain.NewChallengeID()
		f.challenges.add(ch)

		_, _, err := f.svc.Start(ctx, ch.ChallengeID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestAssertionFailureRejectsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.verifier.result = assertion.Result{Outcome: domain.OutcomeFail, Reason: "signature invalid"}
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)

	decided, err := f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDecided, decided.State)
	assert.Equal(t, domain.DecisionRejected, decided.Decision)
	assert.NotNil(t, decided.DecidedAt)

	// Rejected decisions are attested too; only expiry is exempt.
	require.Eventually(t, func() bool {
		return len(f.attester.attested()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFullDualFactorVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)

	sess, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingResults, sess.State)
	assert.Equal(t, domain.OutcomePass, sess.DeviceAssertionOutcome)

	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)

	decided := f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, domain.StateDecided, decided.State)
	assert.Equal(t, domain.DecisionVerified, decided.Decision)
	assert.False(t, decided.ReducedAssurance)
	assert.Equal(t, 0.95, decided.RecognitionScore)

	require.Eventually(t, func() bool {
		return len(f.attester.attested()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, decided.SessionID, f.attester.attested()[0].SessionID)
}

func TestLowScoreRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.fn = func(context.Context) (domain.RecognitionResult, error) {
		return domain.RecognitionResult{Score: 0.4}, nil
	}
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)
	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)

	decided := f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, domain.DecisionRejected, decided.Decision)
	assert.False(t, decided.ReducedAssurance)
}

// Assertion passes early, recognition times out: the decision must land when
// the recognition timeout resolves, well before the session TTL, as verified
// with the reduced-assurance marker.
func TestRecognitionTimeoutVerifiesWithReducedAssurance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTTL(3*time.Second))
	f.gateway.fn = func(ctx context.Context) (domain.RecognitionResult, error) {
		select {
		case <-time.After(80 * time.Millisecond):
			return domain.RecognitionResult{}, recognition.ErrTimeout
		case <-ctx.Done():
			return domain.RecognitionResult{}, ctx.Err()
		}
	}
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)
	started := time.Now()
	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)

	decided := f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, domain.StateDecided, decided.State)
	assert.Equal(t, domain.DecisionVerified, decided.Decision)
	assert.True(t, decided.ReducedAssurance)
	assert.Equal(t, domain.OutcomeTimeout, decided.RecognitionOutcome)

	require.NotNil(t, decided.DecidedAt)
	// Decided when the gateway gave up, not when the session TTL fired.
	assert.True(t, decided.DecidedAt.Before(decided.ExpiresAt))
	assert.Less(t, time.Since(started), 2*time.Second)

	events := f.audit.ByAction(audit.ActionSessionDecided)
	require.Len(t, events, 1)
	assert.True(t, events[0].ReducedAssurance)
}

func TestDuplicateRecognitionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)

	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)
	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicate))

	f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, 1, f.gateway.callCount())
}

func TestConcurrentRecognitionSubmissionsDispatchOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.newChallenge()

	sess, _, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicate))
		}
	}
	assert.Equal(t, 1, wins)
}

// TTL with the device assertion unresolved: the session expires, distinct
// from rejected, and is never attested.
func TestTTLWithPendingAssertionExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTTL(60*time.Millisecond))
	ch := f.newChallenge()

	sess, _, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)

	expired := f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, domain.StateExpired, expired.State)
	assert.Empty(t, expired.Decision)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.attester.attested())
	assert.Len(t, f.audit.ByAction(audit.ActionSessionExpired), 1)
	assert.Empty(t, f.audit.ByAction(audit.ActionSessionDecided))
}

// TTL with a passing assertion but recognition never submitted: pending
// recognition converts to timeout and the policy decides.
func TestTTLWithPassedAssertionDecidesReduced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTTL(60*time.Millisecond))
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)

	decided := f.waitTerminal(t, sess.SessionID)
	assert.Equal(t, domain.StateDecided, decided.State)
	assert.Equal(t, domain.DecisionVerified, decided.Decision)
	assert.True(t, decided.ReducedAssurance)
	assert.Equal(t, domain.OutcomeTimeout, decided.RecognitionOutcome)
}

// A recognition result arriving after expiry is logged and ignored; the
// terminal state never changes.
func TestLateRecognitionResultIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTTL(50*time.Millisecond))
	release := make(chan struct{})
	f.gateway.fn = func(ctx context.Context) (domain.RecognitionResult, error) {
		<-release
		return domain.RecognitionResult{Score: 1.0}, nil
	}
	ch := f.newChallenge()

	sess, _, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)

	expired := f.waitTerminal(t, sess.SessionID)
	require.Equal(t, domain.StateExpired, expired.State)

	close(release)
	require.Eventually(t, func() bool {
		return len(f.audit.ByAction(audit.ActionLateResultIgnored)) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	final, err := f.svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, final.State)
	assert.Equal(t, domain.OutcomePending, final.RecognitionOutcome)
}

// The decision is made exactly once even when the recognition result and the
// TTL race: one decided audit event, one attestation handoff.
func TestDecisionRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTTL(80*time.Millisecond))
	f.gateway.fn = func(ctx context.Context) (domain.RecognitionResult, error) {
		time.Sleep(75 * time.Millisecond)
		return domain.RecognitionResult{Score: 0.99}, nil
	}
	ch := f.newChallenge()

	sess, consumed, err := f.svc.Start(ctx, ch.ChallengeID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAssertion(ctx, sess.SessionID, consumed, []byte("cred"), []byte("sig"), []byte("cd"))
	require.NoError(t, err)
	_, err = f.svc.SubmitRecognition(ctx, sess.SessionID, []byte("image"))
	require.NoError(t, err)

	decided := f.waitTerminal(t, sess.SessionID)
	require.Equal(t, domain.StateDecided, decided.State)
	assert.Equal(t, domain.DecisionVerified, decided.Decision)

	// Give the loser of the race time to (incorrectly) apply itself.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, f.audit.ByAction(audit.ActionSessionDecided), 1)
	assert.Len(t, f.attester.attested(), 1)
}

// Sessions opened by a previous process have no in-memory timer; the GC sweep
// expires a pending-assertion orphan and decides a passed-assertion one, and
// leaves sessions still inside their deadline alone.
func TestRunGCExpiresOrphanedSessions(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	publisher := audit.NewMemoryPublisher()
	attester := &stubAttester{}

	now := time.Now().UTC()
	orphanPending := domain.VerificationSession{
		SessionID:              domain.NewSessionID(),
		UserID:                 domain.NewUserID(),
		ChallengeID:            domain.NewChallengeID(),
		State:                  domain.StateAwaitingResults,
		DeviceAssertionOutcome: domain.OutcomePending,
		RecognitionOutcome:     domain.OutcomePending,
		CreatedAt:              now.Add(-2 * time.Minute),
		ExpiresAt:              now.Add(-time.Minute),
	}
	orphanPassed := orphanPending
	orphanPassed.SessionID = domain.NewSessionID()
	orphanPassed.DeviceAssertionOutcome = domain.OutcomePass
	fresh := orphanPending
	fresh.SessionID = domain.NewSessionID()
	fresh.ExpiresAt = now.Add(time.Minute)

	require.NoError(t, store.Create(ctx, orphanPending))
	require.NoError(t, store.Create(ctx, orphanPassed))
	require.NoError(t, store.Create(ctx, fresh))

	gateway := &stubGateway{fn: func(context.Context) (domain.RecognitionResult, error) {
		return domain.RecognitionResult{Score: 0.95}, nil
	}}
	svc, err := New(store, newStubChallenges(), &stubVerifier{}, gateway, attester,
		WithAuditPublisher(publisher))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	gcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go svc.RunGC(gcCtx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		a, err := store.Get(ctx, orphanPending.SessionID)
		if err != nil || a.State != domain.StateExpired {
			return false
		}
		b, err := store.Get(ctx, orphanPassed.SessionID)
		return err == nil && b.State == domain.StateDecided
	}, 2*time.Second, 10*time.Millisecond)

	decided, err := store.Get(ctx, orphanPassed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionVerified, decided.Decision)
	assert.True(t, decided.ReducedAssurance)
	assert.Equal(t, domain.OutcomeTimeout, decided.RecognitionOutcome)

	untouched, err := store.Get(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingResults, untouched.State)

	require.Eventually(t, func() bool {
		return len(attester.attested()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, orphanPassed.SessionID, attester.attested()[0].SessionID)
	assert.Len(t, publisher.ByAction(audit.ActionSessionExpired), 1)
}
