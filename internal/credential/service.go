package credential

import (
	"context"
	"errors"
	"log/slog"

	"biopass/internal/assertion"
	"biopass/internal/audit"
	"biopass/internal/domain"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// ChallengeIssuer is the slice of the challenge service the registration
// ceremony needs.
type ChallengeIssuer interface {
	Issue(ctx context.Context, userID domain.UserID, purpose domain.ChallengePurpose) (domain.Challenge, error)
	Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error)
}

// Service runs the registration ceremony and credential lifecycle. The
// registry rows it writes are never mutated afterwards; revocation is the
// only soft-delete.
type Service struct {
	store          Store
	challenges     ChallengeIssuer
	verifier       *assertion.Verifier
	logger         *slog.Logger
	auditPublisher audit.Publisher
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p audit.Publisher) ServiceOption {
	return func(s *Service) { s.auditPublisher = p }
}

func NewService(store Store, challenges ChallengeIssuer, verifier *assertion.Verifier, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if challenges == nil {
		return nil, errors.New("challenge issuer is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	svc := &Service{
		store:          store,
		challenges:     challenges,
		verifier:       verifier,
		logger:         slog.Default(),
		auditPublisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// BeginRegistration issues a register-purpose challenge for the user.
func (s *Service) BeginRegistration(ctx context.Context, userID domain.UserID) (domain.Challenge, error) {
	return s.challenges.Issue(ctx, userID, domain.PurposeRegister)
}

// CompleteRegistration consumes the registration challenge, validates the
// self-signed payload and the COSE key, and stores the credential. The
// challenge consume is the atomic step: a replayed completion hits
// already_consumed before any validation runs.
func (s *Service) CompleteRegistration(
	ctx context.Context,
	challengeID domain.ChallengeID,
	credentialID, publicKeyCOSE, signature, clientData []byte,
	class domain.AuthenticatorClass,
) (domain.Credential, error) {
	if len(credentialID) == 0 {
		return domain.Credential{}, dErrors.New(dErrors.CodeInvalidInput, "credential id must not be empty")
	}

	ch, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return domain.Credential{}, err
	}
	if ch.Purpose != domain.PurposeRegister {
		return domain.Credential{}, dErrors.New(dErrors.CodeInvalidInput, "challenge was not issued for registration")
	}

	if err := s.verifier.VerifyRegistration(ch, publicKeyCOSE, signature, clientData); err != nil {
		return domain.Credential{}, dErrors.Wrap(err, dErrors.CodePolicyRejection, "registration proof rejected")
	}

	if class != domain.AuthenticatorPlatformBiometric && class != domain.AuthenticatorOther {
		class = domain.AuthenticatorOther
	}

	cred := domain.Credential{
		CredentialID:       credentialID,
		UserID:             ch.UserID,
		PublicKey:          publicKeyCOSE,
		AuthenticatorClass: class,
		CreatedAt:          requestcontext.Now(ctx),
	}
	if err := s.store.Save(ctx, cred); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.Credential{}, dErrors.Wrap(err, dErrors.CodeDuplicate, "credential already registered")
		}
		return domain.Credential{}, dErrors.Wrap(err, dErrors.CodeInternal, "save credential")
	}

	s.auditPublisher.Emit(ctx, audit.Event{
		Action:      audit.ActionRegistrationCompleted,
		UserID:      ch.UserID.String(),
		ChallengeID: challengeID.String(),
	})
	return cred, nil
}

// Revoke soft-deletes a credential on user request or suspected compromise.
func (s *Service) Revoke(ctx context.Context, credentialID []byte) error {
	err := s.store.Revoke(ctx, credentialID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "unknown credential")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "revoke credential")
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Action: audit.ActionCredentialRevoked,
		Reason: domain.CredentialKey(credentialID),
	})
	return nil
}

// Registered reports whether the user can start an assert ceremony: at least
// one unrevoked credential exists.
func (s *Service) Registered(ctx context.Context, userID domain.UserID) (bool, error) {
	return Registered(ctx, s.store, userID)
}

// UserSource adapts a credential store onto the challenge service's
// UserSource interface. Needed at wiring time, before the credential service
// itself exists (the two services reference each other's concerns).
type UserSource struct {
	store Store
}

func NewUserSource(store Store) *UserSource {
	return &UserSource{store: store}
}

func (u *UserSource) Registered(ctx context.Context, userID domain.UserID) (bool, error) {
	return Registered(ctx, u.store, userID)
}

func Registered(ctx context.Context, store Store, userID domain.UserID) (bool, error) {
	creds, err := store.FindByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, cred := range creds {
		if !cred.Revoked() {
			return true, nil
		}
	}
	return false, nil
}
