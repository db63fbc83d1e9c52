package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"opsboard.org/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, display_name, role_id, department, status, created_at, updated_at, last_login_at, password_hash`

func (st userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := st.db.ExecContext(ctx, `
		insert into users (id, email, display_name, role_id, department, status, created_at, updated_at, password_hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.DisplayName, u.RoleID, nullIfEmpty(u.Department), u.Status, u.CreatedAt, u.UpdatedAt, u.PasswordHash)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrDuplicateEmail
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (st userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return st.one(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (st userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return st.one(ctx, `select `+userColumns+` from users where email = $1`, email)
}

func (st userStore) one(ctx context.Context, query string, arg any) (*auth.User, error) {
	row := st.db.QueryRowContext(ctx, query, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (st userStore) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := st.db.QueryContext(ctx, `select `+userColumns+` from users order by display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (st userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := st.db.ExecContext(ctx, `
		update users
		set email = $2, display_name = $3, role_id = $4, department = $5, status = $6, updated_at = $7, password_hash = $8
		where id = $1
	`, u.ID, u.Email, u.DisplayName, u.RoleID, nullIfEmpty(u.Department), u.Status, u.UpdatedAt, u.PasswordHash)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrDuplicateEmail
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
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

func (st userStore) Delete(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `delete from users where id = $1`, id)
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

func (st userStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := st.db.QueryRowContext(ctx, `select count(*) from users where role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (st userStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := st.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		dept      sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleID, &dept, &u.Status,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin, &u.PasswordHash); err != nil {
		return nil, err
	}
	u.Department = fromNull(dept)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}
