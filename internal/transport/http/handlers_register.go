package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"

	"biopass/internal/domain"
	dErrors "biopass/pkg/domainerrors"
	"biopass/pkg/requestcontext"
)

const maxPublicKeyBytes = 2 << 10

type registerBeginRequest struct {
	UserID string `json:"user_id"`
}

type registerCompleteRequest struct {
	ChallengeID        string `json:"challenge_id"`
	CredentialID       []byte `json:"credential_id"`
	PublicKey          []byte `json:"public_key"` // COSE bytes, base64 on the wire
	Signature          []byte `json:"signature"`
	ClientData         []byte `json:"client_data"`
	AuthenticatorClass string `json:"authenticator_class"`
}

type registerCompleteResponse struct {
	CredentialID []byte    `json:"credential_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Handler) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if !govalidator.IsUUID(req.UserID) {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid user_id"))
		return
	}

	userID, err := domain.ParseUserID(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	ch, err := h.registration.BeginRegistration(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: ch.ChallengeID.String(),
		Nonce:       ch.Nonce,
		ExpiresAt:   ch.ExpiresAt,
	})
}

func (h *Handler) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateRegisterCompleteRequest(req); err != nil {
		writeError(w, err)
		return
	}

	challengeID, err := domain.ParseChallengeID(req.ChallengeID)
	if err != nil {
		writeError(w, err)
		return
	}

	cred, err := h.registration.CompleteRegistration(ctx, challengeID,
		req.CredentialID, req.PublicKey, req.Signature, req.ClientData,
		domain.AuthenticatorClass(req.AuthenticatorClass))
	if err != nil {
		h.logger.WarnContext(ctx, "registration rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerCompleteResponse{
		CredentialID: cred.CredentialID,
		CreatedAt:    cred.CreatedAt,
	})
}

func validateRegisterCompleteRequest(req registerCompleteRequest) error {
	if len(req.CredentialID) == 0 || len(req.CredentialID) > maxCredentialIDBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid credential_id")
	}
	if len(req.PublicKey) == 0 || len(req.PublicKey) > maxPublicKeyBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid public_key")
	}
	if len(req.Signature) == 0 || len(req.Signature) > maxSignatureBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid signature")
	}
	if len(req.ClientData) == 0 || len(req.ClientData) > maxClientDataBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid client_data")
	}
	if req.AuthenticatorClass != "" &&
		!govalidator.IsIn(req.AuthenticatorClass,
			string(domain.AuthenticatorPlatformBiometric), string(domain.AuthenticatorOther)) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid authenticator_class")
	}
	return nil
}
