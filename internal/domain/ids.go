package domain

import (
	"github.com/google/uuid"

	dErrors "biopass/pkg/domainerrors"
)

// Typed IDs keep user, challenge, session, and attestation identifiers from
// being accidentally interchanged. IDs must be valid, non-nil UUIDs at trust
// boundaries.
type (
	UserID        uuid.UUID
	ChallengeID   uuid.UUID
	SessionID     uuid.UUID
	AttestationID uuid.UUID
)

func NewUserID() UserID               { return UserID(uuid.New()) }
func NewChallengeID() ChallengeID     { return ChallengeID(uuid.New()) }
func NewSessionID() SessionID         { return SessionID(uuid.New()) }
func NewAttestationID() AttestationID { return AttestationID(uuid.New()) }

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id ChallengeID) String() string   { return uuid.UUID(id).String() }
func (id SessionID) String() string     { return uuid.UUID(id).String() }
func (id AttestationID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ChallengeID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AttestationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s)
	return ChallengeID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

func ParseAttestationID(s string) (AttestationID, error) {
	u, err := parseUUID(s)
	return AttestationID(u), err
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
