package attestation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

// PostgresStore persists attestations. The unique index on session_id is the
// durable half of the dedupe guarantee: even a racing resubmission cannot
// create a second row for one session.
//
// Schema:
//
//	CREATE TABLE attestations (
//	    attestation_id    UUID PRIMARY KEY,
//	    user_id           UUID NOT NULL,
//	    session_id        UUID NOT NULL UNIQUE,
//	    decision          TEXT NOT NULL,
//	    reduced_assurance BOOLEAN NOT NULL DEFAULT FALSE,
//	    ledger_tx_ref     TEXT NOT NULL DEFAULT '',
//	    confirmations     BIGINT NOT NULL DEFAULT 0,
//	    status            TEXT NOT NULL,
//	    submitted_at      TIMESTAMPTZ NOT NULL,
//	    confirmed_at      TIMESTAMPTZ,
//	    version           BIGINT NOT NULL DEFAULT 0
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const maxCASRetries = 8

func (s *PostgresStore) Save(ctx context.Context, att domain.Attestation) error {
	query := `
		INSERT INTO attestations (
			attestation_id, user_id, session_id, decision, reduced_assurance,
			ledger_tx_ref, confirmations, status, submitted_at, confirmed_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		ON CONFLICT (session_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(att.AttestationID), uuid.UUID(att.UserID), uuid.UUID(att.SessionID),
		string(att.Decision), att.ReducedAssurance,
		att.LedgerTxRef, att.Confirmations, string(att.Status), att.SubmittedAt, att.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attestation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert attestation: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.AttestationID) (domain.Attestation, error) {
	att, _, err := s.load(ctx, `WHERE attestation_id = $1`, uuid.UUID(id))
	return att, err
}

func (s *PostgresStore) FindBySession(ctx context.Context, sessionID domain.SessionID) (domain.Attestation, error) {
	att, _, err := s.load(ctx, `WHERE session_id = $1`, uuid.UUID(sessionID))
	return att, err
}

func (s *PostgresStore) Update(ctx context.Context, id domain.AttestationID, fn func(*domain.Attestation) error) (domain.Attestation, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		att, version, err := s.load(ctx, `WHERE attestation_id = $1`, uuid.UUID(id))
		if err != nil {
			return domain.Attestation{}, err
		}
		if err := fn(&att); err != nil {
			return domain.Attestation{}, err
		}

		query := `
			UPDATE attestations SET
				ledger_tx_ref = $2, confirmations = $3, status = $4,
				confirmed_at = $5, version = version + 1
			WHERE attestation_id = $1 AND version = $6
		`
		res, err := s.db.ExecContext(ctx, query,
			uuid.UUID(id), att.LedgerTxRef, att.Confirmations, string(att.Status), att.ConfirmedAt, version,
		)
		if err != nil {
			return domain.Attestation{}, fmt.Errorf("update attestation: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return domain.Attestation{}, fmt.Errorf("update attestation: %w", err)
		}
		if affected == 1 {
			return att, nil
		}
	}
	return domain.Attestation{}, fmt.Errorf("update attestation %s: %w", id, sentinel.ErrConflict)
}

func (s *PostgresStore) load(ctx context.Context, where string, arg any) (domain.Attestation, int64, error) {
	query := `
		SELECT attestation_id, user_id, session_id, decision, reduced_assurance,
		       ledger_tx_ref, confirmations, status, submitted_at, confirmed_at, version
		FROM attestations ` + where
	var (
		att           domain.Attestation
		attestationID uuid.UUID
		userID        uuid.UUID
		sessionID     uuid.UUID
		decision      string
		status        string
		confirmedAt   sql.NullTime
		version       int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&attestationID, &userID, &sessionID, &decision, &att.ReducedAssurance,
		&att.LedgerTxRef, &att.Confirmations, &status, &att.SubmittedAt, &confirmedAt, &version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attestation{}, 0, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Attestation{}, 0, fmt.Errorf("load attestation: %w", err)
	}
	att.AttestationID = domain.AttestationID(attestationID)
	att.UserID = domain.UserID(userID)
	att.SessionID = domain.SessionID(sessionID)
	att.Decision = domain.Decision(decision)
	att.Status = domain.AttestationStatus(status)
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		att.ConfirmedAt = &t
	}
	att.SubmittedAt = att.SubmittedAt.UTC()
	return att, version, nil
}
