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

type issueChallengeRequest struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
}

type challengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Nonce       []byte    `json:"nonce"` // base64 on the wire
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req issueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateIssueChallengeRequest(req); err != nil {
		writeError(w, err)
		return
	}

	userID, err := domain.ParseUserID(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	ch, err := h.challenges.Issue(ctx, userID, domain.ChallengePurpose(req.Purpose))
	if err != nil {
		h.logger.WarnContext(ctx, "challenge issue rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: ch.ChallengeID.String(),
		Nonce:       ch.Nonce,
		ExpiresAt:   ch.ExpiresAt,
	})
}

func validateIssueChallengeRequest(req issueChallengeRequest) error {
	if !govalidator.IsUUID(req.UserID) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid user_id")
	}
	if !govalidator.IsIn(req.Purpose, string(domain.PurposeRegister), string(domain.PurposeAssert)) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid purpose")
	}
	return nil
}
