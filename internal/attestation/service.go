package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"biopass/internal/audit"
	"biopass/internal/domain"
	"biopass/internal/ledger"
	"biopass/internal/platform/metrics"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// Service records verification outcomes on the ledger. Submission is
// fire-and-forget plus poll: submit once, remember the txRef, then poll for
// confirmations on a fixed schedule until the budget runs out. Resubmission
// after a failure must first check whether the earlier transaction landed,
// so the same session is never attested twice.
type Service struct {
	store          Store
	ledger         ledger.Client
	interval       time.Duration
	maxPolls       int
	required       uint64
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
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

// WithPollSchedule overrides the confirmation polling cadence and budget.
func WithPollSchedule(interval time.Duration, maxPolls int) Option {
	return func(s *Service) {
		s.interval = interval
		s.maxPolls = maxPolls
	}
}

func WithRequiredConfirmations(n uint64) Option {
	return func(s *Service) { s.required = n }
}

func New(store Store, ledgerClient ledger.Client, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("attestation store is required")
	}
	if ledgerClient == nil {
		return nil, errors.New("ledger client is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		store:          store,
		ledger:         ledgerClient,
		interval:       5 * time.Second,
		maxPolls:       10,
		required:       3,
		logger:         slog.Default(),
		auditPublisher: audit.NopPublisher{},
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Close cancels all in-flight confirmation polling and waits for the pollers
// to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// attestationPayload is the calldata written to the ledger. No biometric
// material, no scores, only the decision and its identifiers.
type attestationPayload struct {
	AttestationID    string    `json:"attestation_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Decision         string    `json:"decision"`
	ReducedAssurance bool      `json:"reduced_assurance"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Attest submits a terminal session's outcome to the ledger. Idempotent per
// session: a session already attested returns its existing attestation.
// Expired or undecided sessions are a caller bug; the reconciler must never
// hand them over.
func (s *Service) Attest(ctx context.Context, sess domain.VerificationSession) (domain.Attestation, error) {
	if sess.State != domain.StateDecided {
		if s.metrics != nil {
			s.metrics.InvariantViolations.Inc()
		}
		s.logger.Error("attest called for non-decided session",
			"session_id", sess.SessionID, "state", sess.State)
		s.auditPublisher.Emit(ctx, audit.Event{
			Action:    audit.ActionInvariantViolation,
			UserID:    sess.UserID.String(),
			SessionID: sess.SessionID.String(),
			Reason:    fmt.Sprintf("attest of %s session", sess.State),
		})
		return domain.Attestation{}, dErrors.Newf(dErrors.CodeInvariantViolation,
			"session %s is %s, not decided", sess.SessionID, sess.State)
	}

	if existing, err := s.store.FindBySession(ctx, sess.SessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "lookup prior attestation")
	}

	decidedAt := requestcontext.Now(ctx)
	if sess.DecidedAt != nil {
		decidedAt = *sess.DecidedAt
	}
	att := domain.Attestation{
		AttestationID:    domain.NewAttestationID(),
		UserID:           sess.UserID,
		SessionID:        sess.SessionID,
		Decision:         sess.Decision,
		ReducedAssurance: sess.ReducedAssurance,
		SubmittedAt:      requestcontext.Now(ctx),
	}

	txRef, err := s.submit(ctx, att, decidedAt)
	if err != nil {
		// The row is still written, marked failed, so the failure is visible
		// and resubmission has something to dedupe against.
		att.Status = domain.AttestationFailed
		s.logger.Error("ledger submission failed", "session_id", sess.SessionID, "error", err)
	} else {
		att.Status = domain.AttestationSubmitted
		att.LedgerTxRef = txRef
	}

	if saveErr := s.store.Save(ctx, att); saveErr != nil {
		if errors.Is(saveErr, sentinel.ErrConflict) {
			// Another writer attested this session between our lookup and
			// save; theirs wins.
			return s.store.FindBySession(ctx, sess.SessionID)
		}
		return domain.Attestation{}, dErrors.Wrap(saveErr, dErrors.CodeInternal, "save attestation")
	}

	if err != nil {
		s.markMetric(domain.AttestationFailed)
		s.auditPublisher.Emit(ctx, audit.Event{
			Action:        audit.ActionAttestationFailed,
			UserID:        att.UserID.String(),
			SessionID:     att.SessionID.String(),
			AttestationID: att.AttestationID.String(),
			Reason:        "submission failed",
		})
		return att, dErrors.Wrap(err, dErrors.CodeTransientFailure, "ledger submission failed")
	}

	s.markMetric(domain.AttestationSubmitted)
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:           audit.ActionAttestationSubmitted,
		UserID:           att.UserID.String(),
		SessionID:        att.SessionID.String(),
		AttestationID:    att.AttestationID.String(),
		Decision:         string(att.Decision),
		ReducedAssurance: att.ReducedAssurance,
	})

	s.startPolling(att.AttestationID, att.LedgerTxRef)
	return att, nil
}

// Resubmit retries a failed attestation. The dedupe check is mandatory: if
// the prior transaction actually landed, it is adopted instead of submitting
// a second one, so one session can never produce two ledger transactions.
func (s *Service) Resubmit(ctx context.Context, id domain.AttestationID) (domain.Attestation, error) {
	att, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown attestation")
	}
	if err != nil {
		return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "load attestation")
	}
	if att.Status != domain.AttestationFailed {
		return domain.Attestation{}, dErrors.Newf(dErrors.CodeInvariantViolation,
			"attestation %s is %s; only failed attestations may be resubmitted", id, att.Status)
	}

	// Dedupe: a failed status only means the polling budget ran out, not that
	// the transaction is absent from the ledger.
	if att.LedgerTxRef != "" {
		confs, err := s.ledger.Confirmations(ctx, att.LedgerTxRef)
		if err != nil {
			return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeTransientFailure, "dedupe check failed")
		}
		if confs > 0 {
			if confs >= s.required {
				return s.markConfirmed(ctx, id, confs)
			}
			// Landed but not yet buried deep enough; resume polling the same
			// transaction rather than submitting a new one.
			updated, err := s.store.Update(ctx, id, func(a *domain.Attestation) error {
				a.Status = domain.AttestationSubmitted
				a.Confirmations = confs
				return nil
			})
			if err != nil {
				return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "update attestation")
			}
			s.startPolling(id, updated.LedgerTxRef)
			return updated, nil
		}
	}

	decidedAt := att.SubmittedAt
	txRef, err := s.submit(ctx, att, decidedAt)
	if err != nil {
		return att, dErrors.Wrap(err, dErrors.CodeTransientFailure, "ledger resubmission failed")
	}

	updated, err := s.store.Update(ctx, id, func(a *domain.Attestation) error {
		a.LedgerTxRef = txRef
		a.Status = domain.AttestationSubmitted
		a.Confirmations = 0
		return nil
	})
	if err != nil {
		return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "update attestation")
	}

	s.markMetric(domain.AttestationSubmitted)
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:        audit.ActionAttestationSubmitted,
		UserID:        updated.UserID.String(),
		SessionID:     updated.SessionID.String(),
		AttestationID: updated.AttestationID.String(),
		Reason:        "resubmission",
	})
	s.startPolling(id, txRef)
	return updated, nil
}

// Get exposes attestation state to the session projection.
func (s *Service) Get(ctx context.Context, sessionID domain.SessionID) (domain.Attestation, error) {
	return s.store.FindBySession(ctx, sessionID)
}

func (s *Service) submit(ctx context.Context, att domain.Attestation, decidedAt time.Time) (string, error) {
	payload, err := json.Marshal(attestationPayload{
		AttestationID:    att.AttestationID.String(),
		SessionID:        att.SessionID.String(),
		UserID:           att.UserID.String(),
		Decision:         string(att.Decision),
		ReducedAssurance: att.ReducedAssurance,
		DecidedAt:        decidedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal attestation payload: %w", err)
	}
	return s.ledger.Submit(ctx, payload)
}

// startPolling launches the confirmation poller for one transaction. The
// poller stops at confirmation, budget exhaustion, or service shutdown.
func (s *Service) startPolling(id domain.AttestationID, txRef string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(s.ctx, id, txRef)
	}()
}

func (s *Service) poll(ctx context.Context, id domain.AttestationID, txRef string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.metrics != nil {
			s.metrics.ConfirmPolls.Inc()
		}
		confs, err := s.ledger.Confirmations(ctx, txRef)
		if err != nil {
			s.logger.Warn("confirmation poll failed",
				"attestation_id", id, "tx", txRef, "attempt", attempt, "error", err)
			continue
		}
		if confs >= s.required {
			if _, err := s.markConfirmed(ctx, id, confs); err != nil {
				s.logger.Error("mark confirmed failed", "attestation_id", id, "error", err)
			}
			return
		}
		if confs > 0 {
			if _, err := s.store.Update(ctx, id, func(a *domain.Attestation) error {
				a.Confirmations = confs
				return nil
			}); err != nil {
				s.logger.Error("record confirmations failed", "attestation_id", id, "error", err)
			}
		}
	}

	// Budget exhausted; surface for resubmission.
	updated, err := s.store.Update(ctx, id, func(a *domain.Attestation) error {
		if a.Status == domain.AttestationConfirmed {
			return sentinel.ErrTerminalState
		}
		a.Status = domain.AttestationFailed
		return nil
	})
	if errors.Is(err, sentinel.ErrTerminalState) {
		return
	}
	if err != nil {
		s.logger.Error("mark failed failed", "attestation_id", id, "error", err)
		return
	}
	s.markMetric(domain.AttestationFailed)
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:        audit.ActionAttestationFailed,
		UserID:        updated.UserID.String(),
		SessionID:     updated.SessionID.String(),
		AttestationID: updated.AttestationID.String(),
		Reason:        "confirmation budget exhausted",
	})
	s.logger.Warn("attestation confirmation budget exhausted",
		"attestation_id", id, "tx", txRef)
}

func (s *Service) markConfirmed(ctx context.Context, id domain.AttestationID, confs uint64) (domain.Attestation, error) {
	now := time.Now().UTC()
	updated, err := s.store.Update(ctx, id, func(a *domain.Attestation) error {
		if a.Status == domain.AttestationConfirmed {
			return nil // idempotent; a racing poll already confirmed
		}
		a.Status = domain.AttestationConfirmed
		a.Confirmations = confs
		a.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return domain.Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "mark attestation confirmed")
	}
	s.markMetric(domain.AttestationConfirmed)
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:        audit.ActionAttestationConfirmed,
		UserID:        updated.UserID.String(),
		SessionID:     updated.SessionID.String(),
		AttestationID: updated.AttestationID.String(),
	})
	return updated, nil
}

func (s *Service) markMetric(status domain.AttestationStatus) {
	if s.metrics != nil {
		s.metrics.AttestationsTotal.WithLabelValues(string(status)).Inc()
	}
}
