package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"biopass/internal/domain"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

const (
	maxSignatureBytes    = 1 << 10
	maxClientDataBytes   = 4 << 10
	maxCredentialIDBytes = 1 << 10
	maxImageBytes        = 8 << 20
)

type assertRequest struct {
	ChallengeID  string `json:"challenge_id"`
	CredentialID []byte `json:"credential_id"`
	Signature    []byte `json:"signature"`
	ClientData   []byte `json:"client_data"`
}

type recognizeRequest struct {
	SessionID string `json:"session_id"`
	Image     []byte `json:"image"`
}

type sessionStateResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type attestationView struct {
	AttestationID string     `json:"attestation_id"`
	Status        string     `json:"status"`
	LedgerTxRef   string     `json:"ledger_tx_ref,omitempty"`
	Confirmations uint64     `json:"confirmations"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

type sessionResponse struct {
	SessionID        string           `json:"session_id"`
	State            string           `json:"state"`
	Outcome          string           `json:"outcome"` // pending | verified | rejected | undetermined
	ReducedAssurance bool             `json:"reduced_assurance,omitempty"`
	Attestation      *attestationView `json:"attestation,omitempty"`
}

// handleAssert opens a verification session from a consumed challenge and
// runs the device assertion in the same request. Start consumes the
// challenge atomically, so a replayed assert fails before any verification.
func (h *Handler) handleAssert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req assertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateAssertRequest(req); err != nil {
		writeError(w, err)
		return
	}

	challengeID, err := domain.ParseChallengeID(req.ChallengeID)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, ch, err := h.verification.Start(ctx, challengeID)
	if err != nil {
		h.logger.WarnContext(ctx, "ceremony start rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error())
		writeError(w, err)
		return
	}

	sess, err = h.verification.SubmitAssertion(ctx, sess.SessionID, ch, req.CredentialID, req.Signature, req.ClientData)
	if err != nil {
		h.logger.ErrorContext(ctx, "assertion submission failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sess.SessionID,
			"error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionStateResponse{
		SessionID: sess.SessionID.String(),
		State:     string(sess.State),
	})
}

// handleRecognize accepts the captured image and dispatches the recognition
// call asynchronously; 202 reflects that the outcome lands later.
func (h *Handler) handleRecognize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if len(req.Image) == 0 || len(req.Image) > maxImageBytes {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid image"))
		return
	}

	sessionID, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.verification.SubmitRecognition(ctx, sessionID, req.Image)
	if err != nil {
		h.logger.WarnContext(ctx, "recognition submission rejected",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID,
			"error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, sessionStateResponse{
		SessionID: sess.SessionID.String(),
		State:     string(sess.State),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := domain.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.verification.Get(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := sessionResponse{
		SessionID:        sess.SessionID.String(),
		State:            string(sess.State),
		Outcome:          userOutcome(sess),
		ReducedAssurance: sess.ReducedAssurance,
	}

	if sess.State == domain.StateDecided && h.attestations != nil {
		att, err := h.attestations.Get(ctx, sess.SessionID)
		switch {
		case err == nil:
			resp.Attestation = &attestationView{
				AttestationID: att.AttestationID.String(),
				Status:        string(att.Status),
				LedgerTxRef:   att.LedgerTxRef,
				Confirmations: att.Confirmations,
				ConfirmedAt:   att.ConfirmedAt,
			}
		case errors.Is(err, sentinel.ErrNotFound):
			// Attestation submission may lag the decision; absence is normal.
		default:
			h.logger.ErrorContext(ctx, "attestation lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"session_id", sessionID,
				"error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// userOutcome collapses internal state to the client-visible vocabulary.
// Expiry is undetermined, never rejected: the client retries with a fresh
// challenge instead of being told its biometric failed.
func userOutcome(sess domain.VerificationSession) string {
	switch sess.State {
	case domain.StateDecided:
		return string(sess.Decision)
	case domain.StateExpired:
		return "undetermined"
	default:
		return "pending"
	}
}

func validateAssertRequest(req assertRequest) error {
	if len(req.CredentialID) == 0 || len(req.CredentialID) > maxCredentialIDBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid credential_id")
	}
	if len(req.Signature) == 0 || len(req.Signature) > maxSignatureBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid signature")
	}
	if len(req.ClientData) == 0 || len(req.ClientData) > maxClientDataBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid client_data")
	}
	return nil
}
