package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsboard.org/internal/auth"
)

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, description, protected, created_at, updated_at`

func (st roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := st.db.ExecContext(ctx, `
		insert into roles (id, name, description, protected, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.Protected, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateName
		}
		return err
	}
	return nil
}

func (st roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return st.one(ctx, `select `+roleColumns+` from roles where id = $1`, id)
}

func (st roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return st.one(ctx, `select `+roleColumns+` from roles where name = $1`, name)
}

func (st roleStore) one(ctx context.Context, query string, arg any) (*auth.Role, error) {
	row := st.db.QueryRowContext(ctx, query, arg)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (st roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := st.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (st roleStore) Update(ctx context.Context, role *auth.Role) error {
	res, err := st.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, updated_at = $4
		where id = $1
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateName
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

func (st roleStore) Delete(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrRoleInUse
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

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	if err := row.Scan(&role.ID, &role.Name, &desc, &role.Protected, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Description = fromNull(desc)
	return &role, nil
}
