package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsboard.org/internal/auth"
)

type sessionStore struct {
	db *sql.DB
}

func (st sessionStore) Create(ctx context.Context, s *auth.Session) error {
	_, err := st.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token_hash, issued_at, expires_at, revoked)
		values ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.UserID, s.TokenHash, s.IssuedAt, s.ExpiresAt, s.Revoked)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (st sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var s auth.Session
	err := st.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, issued_at, expires_at, revoked
		from sessions
		where id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IssuedAt, &s.ExpiresAt, &s.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (st sessionStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `update sessions set revoked = true where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (st sessionStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := st.db.ExecContext(ctx, `update sessions set revoked = true where user_id = $1`, userID)
	return err
}
