package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsboard.org/internal/auth"
)

type auditStore struct {
	db *sql.DB
}

func (st auditStore) Append(ctx context.Context, rec *auth.AuditRecord) error {
	_, err := st.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_user_id, actor_email, action, resource_type, resource_id, ip_address, user_agent, outcome, detail)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.OccurredAt, nullIfEmpty(rec.ActorUserID), nullIfEmpty(rec.ActorEmail), rec.Action,
		nullIfEmpty(rec.ResourceType), nullIfEmpty(rec.ResourceID), nullIfEmpty(rec.IPAddress),
		nullIfEmpty(rec.UserAgent), rec.Outcome, nullIfEmpty(rec.Detail))
	return err
}

func (st auditStore) Query(ctx context.Context, filter auth.AuditFilter) ([]*auth.AuditRecord, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.Actor != "" {
		where = append(where, fmt.Sprintf("(actor_user_id = $%d or actor_email = $%d)", idx, idx))
		args = append(args, filter.Actor)
		idx++
	}
	if filter.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, filter.Action)
		idx++
	}
	if filter.Outcome != "" {
		where = append(where, fmt.Sprintf("outcome = $%d", idx))
		args = append(args, filter.Outcome)
		idx++
	}
	if !filter.From.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}

	query := `select id, occurred_at, actor_user_id, actor_email, action, resource_type, resource_id, ip_address, user_agent, outcome, detail from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at desc"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" limit $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*auth.AuditRecord
	for rows.Next() {
		var (
			rec                                 auth.AuditRecord
			actorID, actorEmail, resType, resID sql.NullString
			ip, userAgent, detail               sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &actorID, &actorEmail, &rec.Action,
			&resType, &resID, &ip, &userAgent, &rec.Outcome, &detail); err != nil {
			return nil, err
		}
		rec.ActorUserID = fromNull(actorID)
		rec.ActorEmail = fromNull(actorEmail)
		rec.ResourceType = fromNull(resType)
		rec.ResourceID = fromNull(resID)
		rec.IPAddress = fromNull(ip)
		rec.UserAgent = fromNull(userAgent)
		rec.Detail = fromNull(detail)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
