package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const driverColumns = `id, name, status`

func scanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	err := row.Scan(&d.ID, &d.Name, &d.Status)
	return d, err
}

const getDriver = `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

func (q *Queries) GetDriver(ctx context.Context, id uuid.UUID) (Driver, error) {
	return scanDriver(q.db.QueryRow(ctx, getDriver, id))
}

const listDrivers = `SELECT ` + driverColumns + ` FROM drivers ORDER BY name`

func (q *Queries) ListDrivers(ctx context.Context) ([]Driver, error) {
	rows, err := q.db.Query(ctx, listDrivers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drivers []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

type CreateDriverParams struct {
	Name   string
	Status string
}

const createDriver = `
INSERT INTO drivers (name, status) VALUES ($1, $2)
RETURNING ` + driverColumns

func (q *Queries) CreateDriver(ctx context.Context, arg CreateDriverParams) (Driver, error) {
	return scanDriver(q.db.QueryRow(ctx, createDriver, arg.Name, arg.Status))
}

type UpdateDriverStatusParams struct {
	ID     string
	Status string
}

// UpdateDriverStatus accepts the id as text because order rows store the
// driver reference as text.
const updateDriverStatus = `
UPDATE drivers SET status = $2 WHERE id::text = $1
RETURNING ` + driverColumns

func (q *Queries) UpdateDriverStatus(ctx context.Context, arg UpdateDriverStatusParams) (Driver, error) {
	return scanDriver(q.db.QueryRow(ctx, updateDriverStatus, arg.ID, arg.Status))
}
