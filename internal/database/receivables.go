package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const receivableColumns = `id, order_id, client_id, amount, due_date, status, created_at`

func scanReceivable(row pgx.Row) (Receivable, error) {
	var r Receivable
	err := row.Scan(&r.ID, &r.OrderID, &r.ClientID, &r.Amount, &r.DueDate, &r.Status, &r.CreatedAt)
	return r, err
}

const getReceivable = `SELECT ` + receivableColumns + ` FROM receivables WHERE id = $1`

func (q *Queries) GetReceivable(ctx context.Context, id string) (Receivable, error) {
	return scanReceivable(q.db.QueryRow(ctx, getReceivable, id))
}

type ListReceivablesParams struct {
	Status pgtype.Text
}

const listReceivables = `
SELECT ` + receivableColumns + ` FROM receivables
WHERE ($1::text IS NULL OR status = $1)
ORDER BY due_date`

func (q *Queries) ListReceivables(ctx context.Context, arg ListReceivablesParams) ([]Receivable, error) {
	rows, err := q.db.Query(ctx, listReceivables, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receivables []Receivable
	for rows.Next() {
		r, err := scanReceivable(rows)
		if err != nil {
			return nil, err
		}
		receivables = append(receivables, r)
	}
	return receivables, rows.Err()
}

type UpsertReceivableParams struct {
	ID       string
	OrderID  string
	ClientID string
	Amount   pgtype.Numeric
	DueDate  time.Time
}

const upsertReceivable = `
INSERT INTO receivables (id, order_id, client_id, amount, due_date, status)
VALUES ($1, $2, $3, $4, $5, 'OPEN')
ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount, due_date = EXCLUDED.due_date
RETURNING ` + receivableColumns

func (q *Queries) UpsertReceivable(ctx context.Context, arg UpsertReceivableParams) (Receivable, error) {
	return scanReceivable(q.db.QueryRow(ctx, upsertReceivable,
		arg.ID, arg.OrderID, arg.ClientID, arg.Amount, arg.DueDate))
}

type UpdateReceivableAmountParams struct {
	OrderID string
	Amount  pgtype.Numeric
}

const updateReceivableAmount = `
UPDATE receivables SET amount = $2 WHERE order_id = $1`

func (q *Queries) UpdateReceivableAmount(ctx context.Context, arg UpdateReceivableAmountParams) error {
	_, err := q.db.Exec(ctx, updateReceivableAmount, arg.OrderID, arg.Amount)
	return err
}

const deleteReceivableByOrder = `DELETE FROM receivables WHERE order_id = $1`

func (q *Queries) DeleteReceivableByOrder(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx, deleteReceivableByOrder, orderID)
	return err
}

const settleReceivable = `
UPDATE receivables SET status = 'SETTLED' WHERE id = $1
RETURNING ` + receivableColumns

func (q *Queries) SettleReceivable(ctx context.Context, id string) (Receivable, error) {
	return scanReceivable(q.db.QueryRow(ctx, settleReceivable, id))
}
