package database

import "context"

type CreateAuditEntryParams struct {
	ActorID   string
	ActorName string
	Action    string
	Details   string
}

const createAuditEntry = `
INSERT INTO audit_log (actor_id, actor_name, action, details)
VALUES ($1, $2, $3, $4)
RETURNING id, actor_id, actor_name, action, details, created_at`

func (q *Queries) CreateAuditEntry(ctx context.Context, arg CreateAuditEntryParams) (AuditEntry, error) {
	var e AuditEntry
	err := q.db.QueryRow(ctx, createAuditEntry,
		arg.ActorID, arg.ActorName, arg.Action, arg.Details,
	).Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Details, &e.CreatedAt)
	return e, err
}
