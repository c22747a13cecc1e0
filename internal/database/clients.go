package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const clientColumns = `id, name, phone, total_orders, last_order_date, created_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.TotalOrders, &c.LastOrderDate, &c.CreatedAt)
	return c, err
}

const getClient = `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

func (q *Queries) GetClient(ctx context.Context, id string) (Client, error) {
	return scanClient(q.db.QueryRow(ctx, getClient, id))
}

const listClients = `SELECT ` + clientColumns + ` FROM clients ORDER BY name`

func (q *Queries) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := q.db.Query(ctx, listClients)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clients []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

type EnsureClientParams struct {
	ID   string
	Name string
}

// EnsureClient registers a client if it does not exist yet. Used both for the
// ANONYMOUS sentinel and for walk-in auto-registration.
const ensureClient = `
INSERT INTO clients (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`

func (q *Queries) EnsureClient(ctx context.Context, arg EnsureClientParams) error {
	_, err := q.db.Exec(ctx, ensureClient, arg.ID, arg.Name)
	return err
}

const incrementClientOrders = `
UPDATE clients SET total_orders = total_orders + 1, last_order_date = now()
WHERE id = $1`

func (q *Queries) IncrementClientOrders(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, incrementClientOrders, id)
	return err
}

// DecrementClientOrders floors the counter at zero; reversions must never
// drive it negative.
const decrementClientOrders = `
UPDATE clients SET total_orders = GREATEST(total_orders - 1, 0)
WHERE id = $1`

func (q *Queries) DecrementClientOrders(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, decrementClientOrders, id)
	return err
}
