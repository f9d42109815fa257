package assertion

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

const testOrigin = "https://app.example.test"

type stubCredentialSource struct {
	creds map[string]domain.Credential
}

func (s *stubCredentialSource) FindByCredentialID(_ context.Context, credentialID []byte) (domain.Credential, error) {
	if cred, ok := s.creds[string(credentialID)]; ok {
		return cred, nil
	}
	return domain.Credential{}, sentinel.ErrNotFound
}

type testDevice struct {
	priv         *ecdsa.PrivateKey
	credentialID []byte
	cose         []byte
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cose, err := EncodeES256PublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return &testDevice{priv: priv, credentialID: []byte("cred-" + t.Name()), cose: cose}
}

func (d *testDevice) sign(t *testing.T, payload []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, d.priv, digest[:])
	require.NoError(t, err)
	return sig
}

func clientDataJSON(t *testing.T, kind string, nonce []byte, origin string) []byte {
	t.Helper()
	raw, err := json.Marshal(ClientData{
		Type:      kind,
		Challenge: base64.RawURLEncoding.EncodeToString(nonce),
		Origin:    origin,
	})
	require.NoError(t, err)
	return raw
}

func consumedChallenge(userID domain.UserID) domain.Challenge {
	now := time.Now().UTC()
	return domain.Challenge{
		ChallengeID: domain.NewChallengeID(),
		UserID:      userID,
		Nonce:       []byte("0123456789abcdef0123456789abcdef"),
		Purpose:     domain.PurposeAssert,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Minute),
		Consumed:    true,
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	userID := domain.NewUserID()
	device := newTestDevice(t)

	source := &stubCredentialSource{creds: map[string]domain.Credential{
		string(device.credentialID): {
			CredentialID:       device.credentialID,
			UserID:             userID,
			PublicKey:          device.cose,
			AuthenticatorClass: domain.AuthenticatorPlatformBiometric,
			CreatedAt:          time.Now().UTC(),
		},
	}}
	verifier, err := NewVerifier(source, testOrigin)
	require.NoError(t, err)

	t.Run("valid assertion passes", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomePass, res.Outcome)
		assert.Empty(t, res.Reason)
	})

	t.Run("fails on wrong nonce", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, []byte("some other nonce value, 32 bytes"), testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on wrong origin", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, "https://evil.example.test")

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on registration-type client data", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataRegister, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on unknown credential", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, []byte("never registered"), device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on credential belonging to another user", func(t *testing.T) {
		ch := consumedChallenge(domain.NewUserID())
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on tampered signature", func(t *testing.T) {
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)
		sig := device.sign(t, clientData)
		sig[len(sig)-1] ^= 0xff

		res := verifier.Verify(ctx, ch, device.credentialID, sig, clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on unconsumed challenge", func(t *testing.T) {
		ch := consumedChallenge(userID)
		ch.Consumed = false
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on expired challenge", func(t *testing.T) {
		ch := consumedChallenge(userID)
		ch.ExpiresAt = ch.IssuedAt.Add(-time.Second)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, device.credentialID, device.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})

	t.Run("fails on revoked credential", func(t *testing.T) {
		revoked := newTestDevice(t)
		revokedAt := time.Now().UTC()
		source.creds[string(revoked.credentialID)] = domain.Credential{
			CredentialID: revoked.credentialID,
			UserID:       userID,
			PublicKey:    revoked.cose,
			CreatedAt:    revokedAt.Add(-time.Hour),
			RevokedAt:    &revokedAt,
		}
		ch := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataAssert, ch.Nonce, testOrigin)

		res := verifier.Verify(ctx, ch, revoked.credentialID, revoked.sign(t, clientData), clientData)

		assert.Equal(t, domain.OutcomeFail, res.Outcome)
	})
}

func TestVerifyRegistration(t *testing.T) {
	userID := domain.NewUserID()
	device := newTestDevice(t)
	verifier, err := NewVerifier(&stubCredentialSource{}, testOrigin)
	require.NoError(t, err)

	ch := consumedChallenge(userID)
	ch.Purpose = domain.PurposeRegister

	t.Run("valid registration proof", func(t *testing.T) {
		clientData := clientDataJSON(t, ClientDataRegister, ch.Nonce, testOrigin)

		err := verifier.VerifyRegistration(ch, device.cose, device.sign(t, clientData), clientData)

		assert.NoError(t, err)
	})

	t.Run("rejects assert challenge", func(t *testing.T) {
		assertCh := consumedChallenge(userID)
		clientData := clientDataJSON(t, ClientDataRegister, assertCh.Nonce, testOrigin)

		err := verifier.VerifyRegistration(assertCh, device.cose, device.sign(t, clientData), clientData)

		assert.Error(t, err)
	})

	t.Run("rejects unparseable key", func(t *testing.T) {
		clientData := clientDataJSON(t, ClientDataRegister, ch.Nonce, testOrigin)

		err := verifier.VerifyRegistration(ch, []byte("not a key"), device.sign(t, clientData), clientData)

		assert.Error(t, err)
	})

	t.Run("rejects signature from a different key", func(t *testing.T) {
		other := newTestDevice(t)
		clientData := clientDataJSON(t, ClientDataRegister, ch.Nonce, testOrigin)

		err := verifier.VerifyRegistration(ch, device.cose, other.sign(t, clientData), clientData)

		assert.Error(t, err)
	})
}
