package domain

import "time"

// ChallengePurpose binds a challenge to a single ceremony type; a register
// challenge must never satisfy an assertion and vice versa.
type ChallengePurpose string

const (
	PurposeRegister ChallengePurpose = "register"
	PurposeAssert   ChallengePurpose = "assert"
)

func (p ChallengePurpose) Valid() bool {
	return p == PurposeRegister || p == PurposeAssert
}

// Challenge is a single-use, time-boxed nonce. It transitions consumed
// false -> true exactly once; verifiers touching a consumed or expired
// challenge fail closed.
type Challenge struct {
	ChallengeID ChallengeID
	UserID      UserID
	Nonce       []byte // >= 16 bytes from a CSPRNG
	Purpose     ChallengePurpose
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
}

func (c Challenge) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }
