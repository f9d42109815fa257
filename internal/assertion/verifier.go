package assertion

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	"biopass/internal/domain"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// Client data types bind the signed payload to one ceremony kind so a
// registration signature can never satisfy an assertion.
const (
	ClientDataAssert   = "biopass.assert"
	ClientDataRegister = "biopass.register"
)

// ClientData is the canonical signed payload produced on the device. The
// signature covers the raw clientData bytes exactly as transmitted.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"` // base64url of the challenge nonce
	Origin    string `json:"origin"`
}

// CredentialSource resolves opaque credential IDs. The credential registry's
// store satisfies this.
type CredentialSource interface {
	FindByCredentialID(ctx context.Context, credentialID []byte) (domain.Credential, error)
}

// Result is the verifier's verdict. The verifier never returns an ambiguous
// outcome: any structural problem is a fail, with Reason kept for audit only
// (never shown to the caller, which would aid an attacker).
type Result struct {
	Outcome domain.SubOutcome // pass or fail, nothing else
	Reason  string
}

func failResult(reason string) Result {
	return Result{Outcome: domain.OutcomeFail, Reason: reason}
}

// Verifier validates signed device assertions against registered credentials.
// It never touches biometric imagery; the on-device biometric unlock is
// represented only by the signature.
type Verifier struct {
	credentials    CredentialSource
	expectedOrigin string
	logger         *slog.Logger
}

type VerifierOption func(*Verifier)

func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

func NewVerifier(credentials CredentialSource, expectedOrigin string, opts ...VerifierOption) (*Verifier, error) {
	if credentials == nil {
		return nil, errors.New("credential source is required")
	}
	if expectedOrigin == "" {
		return nil, errors.New("expected origin is required")
	}
	v := &Verifier{
		credentials:    credentials,
		expectedOrigin: expectedOrigin,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks a signed assertion against the stored public key and the
// issued challenge. The challenge must already be consumed by the caller
// (consumption is the atomic step; verification is pure). Fails closed on
// every mismatch.
func (v *Verifier) Verify(ctx context.Context, ch domain.Challenge, credentialID, signature, clientDataRaw []byte) Result {
	now := requestcontext.Now(ctx)

	if ch.Purpose != domain.PurposeAssert {
		return failResult("challenge purpose is not assert")
	}
	if !ch.Consumed {
		// Callers consume first; an unconsumed challenge here is a wiring bug
		// and must not produce a pass.
		return failResult("challenge not consumed")
	}
	if ch.Expired(now) {
		return failResult("challenge expired")
	}

	if err := v.checkClientData(clientDataRaw, ClientDataAssert, ch.Nonce); err != nil {
		return failResult(err.Error())
	}

	cred, err := v.credentials.FindByCredentialID(ctx, credentialID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return failResult("unknown credential")
	}
	if err != nil {
		v.logger.Error("credential lookup failed", "error", err)
		return failResult("credential lookup failed")
	}
	if cred.Revoked() {
		return failResult("credential revoked")
	}
	if cred.UserID != ch.UserID {
		return failResult("credential does not belong to challenged user")
	}

	key, err := ParsePublicKey(cred.PublicKey)
	if err != nil {
		// A stored key that no longer parses is a registry defect, not a user
		// failure, but the ceremony still fails closed.
		v.logger.Error("stored public key unparseable",
			"credential", domain.CredentialKey(credentialID), "error", err)
		return failResult("stored public key unparseable")
	}
	if !key.Verify(clientDataRaw, signature) {
		return failResult("signature invalid")
	}

	return Result{Outcome: domain.OutcomePass}
}

// VerifyRegistration validates the self-signed registration payload: the new
// key must parse and must have signed the registration client data embedding
// the issued nonce. Returns the parse error reason on failure.
func (v *Verifier) VerifyRegistration(ch domain.Challenge, publicKeyCOSE, signature, clientDataRaw []byte) error {
	if ch.Purpose != domain.PurposeRegister {
		return errors.New("challenge purpose is not register")
	}
	if err := v.checkClientData(clientDataRaw, ClientDataRegister, ch.Nonce); err != nil {
		return err
	}
	key, err := ParsePublicKey(publicKeyCOSE)
	if err != nil {
		return err
	}
	if !key.Verify(clientDataRaw, signature) {
		return errors.New("registration signature invalid")
	}
	return nil
}

func (v *Verifier) checkClientData(raw []byte, wantType string, nonce []byte) error {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return errors.New("client data malformed")
	}
	if cd.Type != wantType {
		return errors.New("client data type mismatch")
	}
	if cd.Origin != v.expectedOrigin {
		return errors.New("origin mismatch")
	}
	got, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return errors.New("client data challenge not base64url")
	}
	if subtle.ConstantTimeCompare(got, nonce) != 1 {
		return errors.New("challenge nonce mismatch")
	}
	return nil
}
