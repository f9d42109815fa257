package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

// PostgresStore persists sessions with an optimistic version column. Update
// is a compare-and-set loop: apply the transition to a snapshot, write back
// only if the version is unchanged, retry on contention. Two sub-verifier
// callbacks racing on one session therefore serialize the same way they do
// in the memory store.
//
// Schema:
//
//	CREATE TABLE verification_sessions (
//	    session_id             UUID PRIMARY KEY,
//	    user_id                UUID NOT NULL,
//	    challenge_id           UUID NOT NULL,
//	    state                  TEXT NOT NULL,
//	    device_outcome         TEXT NOT NULL,
//	    recognition_outcome    TEXT NOT NULL,
//	    recognition_dispatched BOOLEAN NOT NULL DEFAULT FALSE,
//	    recognition_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    decision               TEXT NOT NULL DEFAULT '',
//	    reduced_assurance      BOOLEAN NOT NULL DEFAULT FALSE,
//	    attempts               INT NOT NULL DEFAULT 0,
//	    created_at             TIMESTAMPTZ NOT NULL,
//	    expires_at             TIMESTAMPTZ NOT NULL,
//	    decided_at             TIMESTAMPTZ,
//	    version                BIGINT NOT NULL DEFAULT 0
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const maxCASRetries = 8

func (s *PostgresStore) Create(ctx context.Context, sess domain.VerificationSession) error {
	query := `
		INSERT INTO verification_sessions (
			session_id, user_id, challenge_id, state,
			device_outcome, recognition_outcome, recognition_dispatched, recognition_score,
			decision, reduced_assurance, attempts, created_at, expires_at, decided_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0)
		ON CONFLICT (session_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(sess.SessionID), uuid.UUID(sess.UserID), uuid.UUID(sess.ChallengeID), string(sess.State),
		string(sess.DeviceAssertionOutcome), string(sess.RecognitionOutcome), sess.RecognitionDispatched, sess.RecognitionScore,
		string(sess.Decision), sess.ReducedAssurance, sess.Attempts, sess.CreatedAt, sess.ExpiresAt, sess.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.SessionID) (domain.VerificationSession, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

func (s *PostgresStore) Update(ctx context.Context, id domain.SessionID, fn func(*domain.VerificationSession) error) (domain.VerificationSession, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		sess, version, err := s.load(ctx, id)
		if err != nil {
			return domain.VerificationSession{}, err
		}
		if err := fn(&sess); err != nil {
			return domain.VerificationSession{}, err
		}

		query := `
			UPDATE verification_sessions SET
				state = $2, device_outcome = $3, recognition_outcome = $4,
				recognition_dispatched = $5, recognition_score = $6,
				decision = $7, reduced_assurance = $8, attempts = $9,
				decided_at = $10, version = version + 1
			WHERE session_id = $1 AND version = $11
		`
		res, err := s.db.ExecContext(ctx, query,
			uuid.UUID(id), string(sess.State), string(sess.DeviceAssertionOutcome), string(sess.RecognitionOutcome),
			sess.RecognitionDispatched, sess.RecognitionScore,
			string(sess.Decision), sess.ReducedAssurance, sess.Attempts,
			sess.DecidedAt, version,
		)
		if err != nil {
			return domain.VerificationSession{}, fmt.Errorf("update session: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return domain.VerificationSession{}, fmt.Errorf("update session: %w", err)
		}
		if affected == 1 {
			return sess, nil
		}
		// Version moved under us; reload and re-apply.
	}
	return domain.VerificationSession{}, fmt.Errorf("update session %s: %w", id, sentinel.ErrConflict)
}

func (s *PostgresStore) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionID, error) {
	query := `
		SELECT session_id FROM verification_sessions
		WHERE expires_at < $1 AND state NOT IN ($2, $3)
		ORDER BY expires_at
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query,
		cutoff, string(domain.StateDecided), string(domain.StateExpired), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []domain.SessionID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, domain.SessionID(id))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) load(ctx context.Context, id domain.SessionID) (domain.VerificationSession, int64, error) {
	query := `
		SELECT session_id, user_id, challenge_id, state,
		       device_outcome, recognition_outcome, recognition_dispatched, recognition_score,
		       decision, reduced_assurance, attempts, created_at, expires_at, decided_at, version
		FROM verification_sessions
		WHERE session_id = $1
	`
	var (
		sess        domain.VerificationSession
		sessionID   uuid.UUID
		userID      uuid.UUID
		challengeID uuid.UUID
		state       string
		deviceOut   string
		recogOut    string
		decision    string
		decidedAt   sql.NullTime
		version     int64
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(id)).Scan(
		&sessionID, &userID, &challengeID, &state,
		&deviceOut, &recogOut, &sess.RecognitionDispatched, &sess.RecognitionScore,
		&decision, &sess.ReducedAssurance, &sess.Attempts, &sess.CreatedAt, &sess.ExpiresAt, &decidedAt, &version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VerificationSession{}, 0, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.VerificationSession{}, 0, fmt.Errorf("load session: %w", err)
	}
	sess.SessionID = domain.SessionID(sessionID)
	sess.UserID = domain.UserID(userID)
	sess.ChallengeID = domain.ChallengeID(challengeID)
	sess.State = domain.SessionState(state)
	sess.DeviceAssertionOutcome = domain.SubOutcome(deviceOut)
	sess.RecognitionOutcome = domain.SubOutcome(recogOut)
	sess.Decision = domain.Decision(decision)
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		sess.DecidedAt = &t
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return sess, version, nil
}
