package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsboard.org/internal/auth"
)

type permStore struct {
	db *sql.DB
}

func (st permStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, key, description, created_at)
			values ($1, $2, $3, $4)
			on conflict (key) do nothing
		`, p.ID, p.Key, nullIfEmpty(p.Description), p.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (st permStore) List(ctx context.Context) ([]auth.Permission, error) {
	return st.query(ctx, `select id, key, description, created_at from permissions order by key`)
}

func (st permStore) SetForRole(ctx context.Context, roleID string, keys []string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, key).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", auth.ErrNotFound, key)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (st permStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return st.query(ctx, `
		select p.id, p.key, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.key
	`, roleID)
}

func (st permStore) query(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			p    auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Key, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = fromNull(desc)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
