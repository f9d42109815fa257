package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"biopass/internal/domain"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// PostgresStore persists credentials via database/sql (pgx stdlib driver).
//
// Schema:
//
//	CREATE TABLE credentials (
//	    credential_id        BYTEA PRIMARY KEY,
//	    user_id              UUID NOT NULL,
//	    public_key           BYTEA NOT NULL,
//	    authenticator_class  TEXT NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL,
//	    revoked_at           TIMESTAMPTZ
//	);
//	CREATE INDEX credentials_user_idx ON credentials (user_id);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, cred domain.Credential) error {
	query := `
		INSERT INTO credentials (credential_id, user_id, public_key, authenticator_class, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (credential_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		cred.CredentialID,
		uuid.UUID(cred.UserID),
		cred.PublicKey,
		string(cred.AuthenticatorClass),
		cred.CreatedAt,
		cred.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByCredentialID(ctx context.Context, credentialID []byte) (domain.Credential, error) {
	query := `
		SELECT credential_id, user_id, public_key, authenticator_class, created_at, revoked_at
		FROM credentials
		WHERE credential_id = $1
	`
	return scanCredential(s.db.QueryRowContext(ctx, query, credentialID))
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID domain.UserID) ([]domain.Credential, error) {
	query := `
		SELECT credential_id, user_id, public_key, authenticator_class, created_at, revoked_at
		FROM credentials
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, credentialID []byte) error {
	query := `
		UPDATE credentials SET revoked_at = $2
		WHERE credential_id = $1 AND revoked_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, credentialID, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if affected == 0 {
		// Either unknown or already revoked; distinguish for the caller.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM credentials WHERE credential_id = $1)`,
			credentialID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("revoke credential: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.Credential, error) {
	var (
		cred      domain.Credential
		userID    uuid.UUID
		class     string
		revokedAt sql.NullTime
	)
	err := row.Scan(&cred.CredentialID, &userID, &cred.PublicKey, &class, &cred.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	cred.UserID = domain.UserID(userID)
	cred.AuthenticatorClass = domain.AuthenticatorClass(class)
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		cred.RevokedAt = &t
	}
	cred.CreatedAt = cred.CreatedAt.UTC()
	return cred, nil
}
