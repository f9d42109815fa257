package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	"biopass/internal/audit"
	"biopass/internal/domain"
	"biopass/internal/platform/metrics"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

const nonceLen = 32

// UserSource answers whether a user has at least one registered credential.
// The credential registry adapts onto this so the issuer can refuse assert
// challenges for unknown users without depending on the registry package.
type UserSource interface {
	Registered(ctx context.Context, userID domain.UserID) (bool, error)
}

type Service struct {
	store          Store
	users          UserSource
	ttl            time.Duration
	maxOutstanding int
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher
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

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithMaxOutstanding(n int) Option {
	return func(s *Service) { s.maxOutstanding = n }
}

func New(store Store, users UserSource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if users == nil {
		return nil, errors.New("user source is required")
	}

	svc := &Service{
		store:          store,
		users:          users,
		ttl:            120 * time.Second,
		maxOutstanding: 5,
		logger:         slog.Default(),
		auditPublisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue creates a single-use, time-boxed challenge. Assert-purpose challenges
// require a registered user; both purposes are capped by the number of
// outstanding challenges so a client cannot stockpile nonces.
func (s *Service) Issue(ctx context.Context, userID domain.UserID, purpose domain.ChallengePurpose) (domain.Challenge, error) {
	if !purpose.Valid() {
		return domain.Challenge{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown challenge purpose %q", purpose)
	}

	if purpose == domain.PurposeAssert {
		registered, err := s.users.Registered(ctx, userID)
		if err != nil {
			return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "check user registration")
		}
		if !registered {
			return domain.Challenge{}, dErrors.New(dErrors.CodeNotFound, "unknown user")
		}
	}

	outstanding, err := s.store.CountOutstanding(ctx, userID)
	if err != nil {
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "count outstanding challenges")
	}
	if outstanding >= s.maxOutstanding {
		return domain.Challenge{}, dErrors.New(dErrors.CodeRateLimited, "too many outstanding challenges")
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}

	now := requestcontext.Now(ctx)
	ch := domain.Challenge{
		ChallengeID: domain.NewChallengeID(),
		UserID:      userID,
		Nonce:       nonce,
		Purpose:     purpose,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, ch); err != nil {
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "save challenge")
	}

	if s.metrics != nil {
		s.metrics.ChallengesIssued.WithLabelValues(string(purpose)).Inc()
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Action:      audit.ActionChallengeIssued,
		UserID:      userID.String(),
		ChallengeID: ch.ChallengeID.String(),
		Reason:      string(purpose),
	})
	return ch, nil
}

// Consume spends a challenge. Exactly one of N concurrent consumers succeeds;
// the others receive already_consumed. Expired and unknown challenges fail
// closed.
func (s *Service) Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	ch, err := s.store.Consume(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown challenge")
	case errors.Is(err, sentinel.ErrExpired):
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeAlreadyConsumed, "challenge expired")
	case errors.Is(err, sentinel.ErrAlreadyConsumed):
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeAlreadyConsumed, "challenge already consumed")
	case err != nil:
		return domain.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "consume challenge")
	}

	if s.metrics != nil {
		s.metrics.ChallengesConsumed.Inc()
	}
	return ch, nil
}

// RunGC sweeps expired challenges until the context ends. The redis store
// expires keys natively, so its sweeps report zero.
func (s *Service) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := s.store.DeleteExpired(ctx, now)
			if err != nil {
				s.logger.Error("challenge gc sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("challenge gc sweep", "removed", removed)
			}
		}
	}
}
