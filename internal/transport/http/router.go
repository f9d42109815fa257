package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"biopass/internal/domain"
	dErrors "biopass/pkg/domainerrors"
)

// ChallengeService issues ceremony challenges.
type ChallengeService interface {
	Issue(ctx context.Context, userID domain.UserID, purpose domain.ChallengePurpose) (domain.Challenge, error)
}

// RegistrationService runs the credential registration ceremony.
type RegistrationService interface {
	BeginRegistration(ctx context.Context, userID domain.UserID) (domain.Challenge, error)
	CompleteRegistration(ctx context.Context, challengeID domain.ChallengeID, credentialID, publicKeyCOSE, signature, clientData []byte, class domain.AuthenticatorClass) (domain.Credential, error)
}

// VerificationService is the reconciler surface the transport needs.
type VerificationService interface {
	Start(ctx context.Context, challengeID domain.ChallengeID) (domain.VerificationSession, domain.Challenge, error)
	SubmitAssertion(ctx context.Context, sessionID domain.SessionID, ch domain.Challenge, credentialID, signature, clientData []byte) (domain.VerificationSession, error)
	SubmitRecognition(ctx context.Context, sessionID domain.SessionID, image []byte) (domain.VerificationSession, error)
	Get(ctx context.Context, sessionID domain.SessionID) (domain.VerificationSession, error)
}

// AttestationReader projects attestation state into the session view.
type AttestationReader interface {
	Get(ctx context.Context, sessionID domain.SessionID) (domain.Attestation, error)
}

// Handler is the thin HTTP layer. It validates input, delegates to the
// domain services, and translates coded errors to the JSON envelope; no
// business logic lives here.
type Handler struct {
	logger       *slog.Logger
	challenges   ChallengeService
	registration RegistrationService
	verification VerificationService
	attestations AttestationReader
}

func NewHandler(challenges ChallengeService, registration RegistrationService, verification VerificationService, attestations AttestationReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger,
		challenges:   challenges,
		registration: registration,
		verification: verification,
		attestations: attestations,
	}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger))
	r.Use(RequestID)
	r.Use(RequestTime)
	r.Use(Logger(h.logger))

	r.Post("/challenge", h.handleIssueChallenge)
	r.Post("/assert", h.handleAssert)
	r.Post("/recognize", h.handleRecognize)
	r.Get("/session/{sessionID}", h.handleGetSession)

	r.Post("/register/begin", h.handleRegisterBegin)
	r.Post("/register/complete", h.handleRegisterComplete)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation so every handler produces
// the same envelope. Internal details never leak; the client sees the code
// and a generic message.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error": string(code),
	})
}
