package assertion

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE constants for the two algorithms we accept from authenticators.
const (
	coseKtyOKP = 1
	coseKtyEC2 = 2

	coseAlgES256 = -7
	coseAlgEdDSA = -8

	coseCrvP256    = 1
	coseCrvEd25519 = 6
)

var (
	ErrUnsupportedKey = errors.New("unsupported COSE key")
	ErrMalformedKey   = errors.New("malformed COSE key")
)

// coseKey is the CBOR wire form of a COSE_Key (RFC 9052 §7), integer-keyed.
type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// PublicKey is a decoded device credential key. Only ES256 (P-256, ASN.1
// signatures) and Ed25519 are accepted; anything else fails at parse time so
// verification never has to guess.
type PublicKey struct {
	alg int
	ec  *ecdsa.PublicKey
	ed  ed25519.PublicKey
}

// ParsePublicKey decodes a COSE-encoded public key as stored in the
// credential registry.
func ParsePublicKey(coseBytes []byte) (*PublicKey, error) {
	var key coseKey
	if err := cbor.Unmarshal(coseBytes, &key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}

	switch {
	case key.Kty == coseKtyEC2 && key.Alg == coseAlgES256 && key.Crv == coseCrvP256:
		return parseES256(key)
	case key.Kty == coseKtyOKP && key.Alg == coseAlgEdDSA && key.Crv == coseCrvEd25519:
		return parseEd25519(key)
	default:
		return nil, fmt.Errorf("%w: kty=%d alg=%d crv=%d", ErrUnsupportedKey, key.Kty, key.Alg, key.Crv)
	}
}

func parseES256(key coseKey) (*PublicKey, error) {
	if len(key.X) != 32 || len(key.Y) != 32 {
		return nil, fmt.Errorf("%w: bad P-256 coordinate length", ErrMalformedKey)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: point not on curve", ErrMalformedKey)
	}
	return &PublicKey{alg: coseAlgES256, ec: pub}, nil
}

func parseEd25519(key coseKey) (*PublicKey, error) {
	if len(key.X) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad Ed25519 key length", ErrMalformedKey)
	}
	return &PublicKey{alg: coseAlgEdDSA, ed: ed25519.PublicKey(key.X)}, nil
}

// Verify checks signature over payload. ES256 signs the SHA-256 digest with
// an ASN.1 DER signature; Ed25519 signs the payload directly.
func (k *PublicKey) Verify(payload, signature []byte) bool {
	switch k.alg {
	case coseAlgES256:
		digest := sha256.Sum256(payload)
		return ecdsa.VerifyASN1(k.ec, digest[:], signature)
	case coseAlgEdDSA:
		return ed25519.Verify(k.ed, payload, signature)
	default:
		return false
	}
}

// EncodeES256PublicKey renders a P-256 key in COSE form. The server never
// creates device keys; this exists for registration tooling and tests.
func EncodeES256PublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)
	return cbor.Marshal(coseKey{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   x,
		Y:   y,
	})
}

// EncodeEd25519PublicKey renders an Ed25519 key in COSE form.
func EncodeEd25519PublicKey(pub ed25519.PublicKey) ([]byte, error) {
	return cbor.Marshal(coseKey{
		Kty: coseKtyOKP,
		Alg: coseAlgEdDSA,
		Crv: coseCrvEd25519,
		X:   []byte(pub),
	})
}
