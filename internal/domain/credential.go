package domain

import (
	"encoding/base64"
	"time"
)

// AuthenticatorClass distinguishes platform biometric authenticators (the key
// is unlocked by an on-device biometric) from other key holders.
type AuthenticatorClass string

const (
	AuthenticatorPlatformBiometric AuthenticatorClass = "platform-biometric"
	AuthenticatorOther             AuthenticatorClass = "other"
)

// Credential maps a user to a registered device key. Created on a successful
// registration ceremony and never mutated afterwards; revocation is a
// soft-delete.
type Credential struct {
	CredentialID       []byte // opaque, unique, produced by the authenticator
	UserID             UserID
	PublicKey          []byte // COSE-encoded key, decoded on each verification
	AuthenticatorClass AuthenticatorClass
	CreatedAt          time.Time
	RevokedAt          *time.Time
}

func (c Credential) Revoked() bool { return c.RevokedAt != nil }

// CredentialKey renders an opaque credential ID as a stable map/database key.
func CredentialKey(credentialID []byte) string {
	return base64.RawURLEncoding.EncodeToString(credentialID)
}
