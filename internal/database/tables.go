package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const tableSessionColumns = `id, table_number, status, has_pending_digital,
	pending_review_items, pin, session_token, client_id, created_at, updated_at`

func scanTableSession(row pgx.Row) (TableSession, error) {
	var s TableSession
	err := row.Scan(
		&s.ID, &s.TableNumber, &s.Status, &s.HasPendingDigital,
		&s.PendingReviewItems, &s.Pin, &s.SessionToken, &s.ClientID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

const getTableSession = `
SELECT ` + tableSessionColumns + ` FROM table_sessions WHERE table_number = $1`

func (q *Queries) GetTableSession(ctx context.Context, tableNumber int32) (TableSession, error) {
	return scanTableSession(q.db.QueryRow(ctx, getTableSession, tableNumber))
}

// GetTableSessionForUpdate locks the session row; concurrent digital-menu
// submissions on the same table serialize here so queue appends are not lost.
const getTableSessionForUpdate = `
SELECT ` + tableSessionColumns + ` FROM table_sessions WHERE table_number = $1 FOR UPDATE`

func (q *Queries) GetTableSessionForUpdate(ctx context.Context, tableNumber int32) (TableSession, error) {
	return scanTableSession(q.db.QueryRow(ctx, getTableSessionForUpdate, tableNumber))
}

const getTableSessionByToken = `
SELECT ` + tableSessionColumns + ` FROM table_sessions WHERE session_token = $1`

func (q *Queries) GetTableSessionByToken(ctx context.Context, token string) (TableSession, error) {
	return scanTableSession(q.db.QueryRow(ctx, getTableSessionByToken, token))
}

const listTableSessions = `
SELECT ` + tableSessionColumns + ` FROM table_sessions ORDER BY table_number`

func (q *Queries) ListTableSessions(ctx context.Context) ([]TableSession, error) {
	rows, err := q.db.Query(ctx, listTableSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []TableSession
	for rows.Next() {
		s, err := scanTableSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type CreateTableSessionParams struct {
	TableNumber        int32
	Status             string
	HasPendingDigital  bool
	PendingReviewItems []byte
	Pin                string
	SessionToken       string
	ClientID           string
}

const createTableSession = `
INSERT INTO table_sessions (table_number, status, has_pending_digital,
	pending_review_items, pin, session_token, client_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + tableSessionColumns

func (q *Queries) CreateTableSession(ctx context.Context, arg CreateTableSessionParams) (TableSession, error) {
	return scanTableSession(q.db.QueryRow(ctx, createTableSession,
		arg.TableNumber, arg.Status, arg.HasPendingDigital,
		arg.PendingReviewItems, arg.Pin, arg.SessionToken, arg.ClientID,
	))
}

type UpdateTableSessionParams struct {
	TableNumber        int32
	Status             string
	HasPendingDigital  bool
	PendingReviewItems []byte
	ClientID           string
}

const updateTableSession = `
UPDATE table_sessions SET
	status = $2, has_pending_digital = $3, pending_review_items = $4,
	client_id = $5, updated_at = now()
WHERE table_number = $1
RETURNING ` + tableSessionColumns

func (q *Queries) UpdateTableSession(ctx context.Context, arg UpdateTableSessionParams) (TableSession, error) {
	return scanTableSession(q.db.QueryRow(ctx, updateTableSession,
		arg.TableNumber, arg.Status, arg.HasPendingDigital,
		arg.PendingReviewItems, arg.ClientID,
	))
}

// DeleteTableSession removes the session for a table. Returns the number of
// rows deleted so callers can treat an already-gone session as a no-op.
const deleteTableSession = `DELETE FROM table_sessions WHERE table_number = $1`

func (q *Queries) DeleteTableSession(ctx context.Context, tableNumber int32) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteTableSession, tableNumber)
	return tag.RowsAffected(), err
}
