package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"biopass/internal/assertion"
	"biopass/internal/audit"
	"biopass/internal/domain"
	"biopass/internal/platform/metrics"
	"biopass/internal/recognition"
	"biopass/internal/session"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// ChallengeConsumer is the slice of the challenge issuer the reconciler
// needs: atomic consumption of a single-use challenge.
type ChallengeConsumer interface {
	Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error)
}

// AssertionVerifier validates a signed device assertion. Pure with respect to
// session state; consumption happened before it runs.
type AssertionVerifier interface {
	Verify(ctx context.Context, ch domain.Challenge, credentialID, signature, clientData []byte) assertion.Result
}

// Attester receives decided sessions for ledger submission. Expired sessions
// are never handed over.
type Attester interface {
	Attest(ctx context.Context, sess domain.VerificationSession) (domain.Attestation, error)
}

// Service is the verification state machine. All session mutation funnels
// through the store's atomic Update, so the two sub-verifier results and the
// TTL timer can race on the same session and the decision is still made
// exactly once.
type Service struct {
	sessions   session.Store
	challenges ChallengeConsumer
	verifier   AssertionVerifier
	gateway    recognition.Gateway
	attester   Attester

	policy         Policy
	ttl            time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[domain.SessionID]*time.Timer
	cancels map[domain.SessionID]context.CancelFunc
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.auditPublisher = p }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func New(sessions session.Store, challenges ChallengeConsumer, verifier AssertionVerifier, gateway recognition.Gateway, attester Attester, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if challenges == nil {
		return nil, errors.New("challenge consumer is required")
	}
	if verifier == nil {
		return nil, errors.New("assertion verifier is required")
	}
	if gateway == nil {
		return nil, errors.New("recognition gateway is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		sessions:       sessions,
		challenges:     challenges,
		verifier:       verifier,
		gateway:        gateway,
		attester:       attester,
		policy:         DefaultPolicy(),
		ttl:            60 * time.Second,
		logger:         slog.Default(),
		auditPublisher: audit.NopPublisher{},
		ctx:            ctx,
		cancel:         cancel,
		timers:         make(map[domain.SessionID]*time.Timer),
		cancels:        make(map[domain.SessionID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Close stops every session timer, cancels in-flight recognition calls, and
// waits for background work to drain.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for id, c := range s.cancels {
		c()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Start opens a verification ceremony. The challenge is consumed here, which
// is the atomic single-use step: a second Start with the same challenge loses
// the consume race and fails. The returned challenge feeds the assertion
// verifier within the same request.
func (s *Service) Start(ctx context.Context, challengeID domain.ChallengeID) (domain.VerificationSession, domain.Challenge, error) {
	ch, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return domain.VerificationSession{}, domain.Challenge{}, err
	}
	if ch.Purpose != domain.PurposeAssert {
		// The challenge is burned either way; a register challenge can never
		// open an assert ceremony.
		return domain.VerificationSession{}, domain.Challenge{}, dErrors.New(dErrors.CodeInvalidInput, "challenge purpose is not assert")
	}

	now := requestcontext.Now(ctx)
	sess := domain.VerificationSession{
		SessionID:              domain.NewSessionID(),
		UserID:                 ch.UserID,
		ChallengeID:            ch.ChallengeID,
		State:                  domain.StateInit,
		DeviceAssertionOutcome: domain.OutcomePending,
		RecognitionOutcome:     domain.OutcomePending,
		CreatedAt:              now,
		ExpiresAt:              now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return domain.VerificationSession{}, domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "create session")
	}

	sess, err = s.sessions.Update(ctx, sess.SessionID, func(cur *domain.VerificationSession) error {
		cur.State = domain.StateAwaitingResults
		return nil
	})
	if err != nil {
		return domain.VerificationSession{}, domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "open session")
	}

	s.armTTL(sess.SessionID)

	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:      audit.ActionSessionStarted,
		UserID:      sess.UserID.String(),
		SessionID:   sess.SessionID.String(),
		ChallengeID: sess.ChallengeID.String(),
	})
	return sess, ch, nil
}

// SubmitAssertion runs the device assertion verifier and records its outcome.
// A failed assertion is conclusive: the session decides rejected immediately,
// whatever recognition may still be doing.
func (s *Service) SubmitAssertion(ctx context.Context, sessionID domain.SessionID, ch domain.Challenge, credentialID, signature, clientData []byte) (domain.VerificationSession, error) {
	result := s.verifier.Verify(ctx, ch, credentialID, signature, clientData)
	if result.Outcome == domain.OutcomeFail {
		s.logger.Info("device assertion failed",
			"session_id", sessionID, "reason", result.Reason)
	}

	now := requestcontext.Now(ctx)
	updated, err := s.sessions.Update(ctx, sessionID, func(cur *domain.VerificationSession) error {
		if cur.Terminal() {
			return sentinel.ErrTerminalState
		}
		cur.DeviceAssertionOutcome = result.Outcome
		cur.Attempts++
		s.maybeDecide(cur, now)
		return nil
	})
	if errors.Is(err, sentinel.ErrTerminalState) {
		s.logLateResult(ctx, sessionID, "assertion")
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeAlreadyConsumed, "session already terminal")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown session")
	}
	if err != nil {
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "record assertion outcome")
	}

	if updated.Terminal() {
		s.finalize(ctx, updated)
	}
	return updated, nil
}

// SubmitRecognition dispatches the recognition gateway call for a session.
// Exactly one call per session: the dispatch flag is claimed inside the
// atomic update, so concurrent submissions yield one dispatch and the rest
// fail as duplicates. The gateway call itself runs in its own goroutine,
// bounded by the gateway timeout and cancelled if the session goes terminal
// first.
func (s *Service) SubmitRecognition(ctx context.Context, sessionID domain.SessionID, image []byte) (domain.VerificationSession, error) {
	claimed, err := s.sessions.Update(ctx, sessionID, func(cur *domain.VerificationSession) error {
		if cur.Terminal() {
			return sentinel.ErrTerminalState
		}
		if cur.RecognitionDispatched {
			return sentinel.ErrDuplicate
		}
		cur.RecognitionDispatched = true
		return nil
	})
	switch {
	case errors.Is(err, sentinel.ErrTerminalState):
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeAlreadyConsumed, "session already terminal")
	case errors.Is(err, sentinel.ErrDuplicate):
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeDuplicate, "recognition already submitted for session")
	case errors.Is(err, sentinel.ErrNotFound):
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown session")
	case err != nil:
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "claim recognition dispatch")
	}

	// The call outlives the HTTP request; the result lands asynchronously.
	callCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.cancels[sessionID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, sessionID)
			s.mu.Unlock()
			cancel()
		}()
		s.runRecognition(callCtx, sessionID, image)
	}()

	return claimed, nil
}

// Get returns the current session snapshot.
func (s *Service) Get(ctx context.Context, sessionID domain.SessionID) (domain.VerificationSession, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown session")
	}
	if err != nil {
		return domain.VerificationSession{}, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}
	return sess, nil
}

func (s *Service) runRecognition(ctx context.Context, sessionID domain.SessionID, image []byte) {
	res, err := s.gateway.Recognize(ctx, sessionID, image)

	outcome := domain.OutcomePass
	var score float64
	switch {
	case err == nil:
		score = res.Score
	case errors.Is(err, recognition.ErrTimeout), errors.Is(err, recognition.ErrBadResponse):
		// Both are the service's fault, never the user's. Soft failure.
		outcome = domain.OutcomeTimeout
		s.logger.Warn("recognition unavailable", "session_id", sessionID, "error", err)
	default:
		outcome = domain.OutcomeTimeout
		s.logger.Warn("recognition call failed", "session_id", sessionID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.RecognitionOutcomes.WithLabelValues(string(outcome)).Inc()
	}

	now := time.Now().UTC()
	updated, uerr := s.sessions.Update(context.WithoutCancel(ctx), sessionID, func(cur *domain.VerificationSession) error {
		if cur.Terminal() {
			return sentinel.ErrTerminalState
		}
		cur.RecognitionOutcome = outcome
		cur.RecognitionScore = score
		s.maybeDecide(cur, now)
		return nil
	})
	if errors.Is(uerr, sentinel.ErrTerminalState) {
		s.logLateResult(context.WithoutCancel(ctx), sessionID, "recognition")
		return
	}
	if uerr != nil {
		s.logger.Error("record recognition outcome failed", "session_id", sessionID, "error", uerr)
		return
	}
	if updated.Terminal() {
		s.finalize(context.WithoutCancel(ctx), updated)
	}
}

// maybeDecide runs inside the store's atomic update. Evaluated at most once
// per session: Ready never becomes true again after a terminal transition
// because terminal sessions abort the update before reaching here.
func (s *Service) maybeDecide(cur *domain.VerificationSession, now time.Time) {
	if !s.policy.Ready(*cur) {
		return
	}
	decision, reduced := s.policy.Decide(*cur)
	cur.State = domain.StateDecided
	cur.Decision = decision
	cur.ReducedAssurance = reduced
	cur.DecidedAt = &now
}

const gcBatchSize = 256

// RunGC periodically expires sessions whose deadline passed without a timer
// firing. Timers live in process memory, so sessions opened before a restart
// would otherwise sit in AWAITING_RESULTS forever under a durable store.
// Blocks until ctx is cancelled.
func (s *Service) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepExpired(ctx, now.UTC())
		}
	}
}

func (s *Service) sweepExpired(ctx context.Context, now time.Time) {
	ids, err := s.sessions.FindExpired(ctx, now, gcBatchSize)
	if err != nil {
		s.logger.Error("session gc sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		s.expire(id)
	}
	if len(ids) > 0 {
		s.logger.Debug("session gc sweep", "expired", len(ids))
	}
}

func (s *Service) armTTL(id domain.SessionID) {
	timer := time.AfterFunc(s.ttl, func() {
		s.expire(id)
	})
	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()
}

// expire fires at session TTL. An unresolved device assertion means the
// client simply never finished the ceremony: the session expires, a distinct
// terminal state from rejected, and the client may retry with a fresh
// challenge. A passing assertion with recognition still pending converts the
// pending recognition to timeout and lets the policy decide.
func (s *Service) expire(id domain.SessionID) {
	ctx := s.ctx
	now := time.Now().UTC()
	updated, err := s.sessions.Update(ctx, id, func(cur *domain.VerificationSession) error {
		if cur.Terminal() {
			return sentinel.ErrTerminalState
		}
		if cur.DeviceAssertionOutcome == domain.OutcomePending {
			cur.State = domain.StateExpired
			cur.DecidedAt = &now
			return nil
		}
		if cur.RecognitionOutcome == domain.OutcomePending {
			cur.RecognitionOutcome = domain.OutcomeTimeout
		}
		s.maybeDecide(cur, now)
		return nil
	})
	if errors.Is(err, sentinel.ErrTerminalState) {
		return
	}
	if err != nil {
		s.logger.Error("session expiry failed", "session_id", id, "error", err)
		return
	}
	if updated.Terminal() {
		s.finalize(ctx, updated)
	}
}

// finalize runs once per session, right after its terminal transition. It
// releases the timer and any in-flight recognition call, emits the audit
// record, and hands decided sessions to the attester. Expired sessions are
// never attested.
func (s *Service) finalize(ctx context.Context, sess domain.VerificationSession) {
	s.mu.Lock()
	if t, ok := s.timers[sess.SessionID]; ok {
		t.Stop()
		delete(s.timers, sess.SessionID)
	}
	if c, ok := s.cancels[sess.SessionID]; ok {
		c()
		delete(s.cancels, sess.SessionID)
	}
	s.mu.Unlock()

	if sess.State == domain.StateExpired {
		if s.metrics != nil {
			s.metrics.SessionsExpired.Inc()
		}
		s.auditPublisher.Emit(ctx, audit.Event{
			Action:    audit.ActionSessionExpired,
			UserID:    sess.UserID.String(),
			SessionID: sess.SessionID.String(),
		})
		s.logger.Info("session expired", "session_id", sess.SessionID)
		return
	}

	if s.metrics != nil {
		s.metrics.SessionsDecided.WithLabelValues(string(sess.Decision), assuranceLabel(sess.ReducedAssurance)).Inc()
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:           audit.ActionSessionDecided,
		UserID:           sess.UserID.String(),
		SessionID:        sess.SessionID.String(),
		Decision:         string(sess.Decision),
		ReducedAssurance: sess.ReducedAssurance,
	})
	s.logger.Info("session decided",
		"session_id", sess.SessionID,
		"decision", sess.Decision,
		"reduced_assurance", sess.ReducedAssurance)

	if s.attester == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.attester.Attest(s.ctx, sess); err != nil {
			s.logger.Error("attestation handoff failed",
				"session_id", sess.SessionID, "error", err)
		}
	}()
}

func (s *Service) logLateResult(ctx context.Context, id domain.SessionID, kind string) {
	s.logger.Info("late result ignored", "session_id", id, "result", kind)
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:    audit.ActionLateResultIgnored,
		SessionID: id.String(),
		Reason:    kind,
	})
}

func assuranceLabel(reduced bool) string {
	if reduced {
		return "reduced"
	}
	return "full"
}
