package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const inventoryItemColumns = `id, name, unit, quantity`

func scanInventoryItem(row pgx.Row) (InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.Name, &it.Unit, &it.Quantity)
	return it, err
}

const getInventoryItem = `SELECT ` + inventoryItemColumns + ` FROM inventory_items WHERE id = $1`

func (q *Queries) GetInventoryItem(ctx context.Context, id uuid.UUID) (InventoryItem, error) {
	return scanInventoryItem(q.db.QueryRow(ctx, getInventoryItem, id))
}

const listInventoryItems = `SELECT ` + inventoryItemColumns + ` FROM inventory_items ORDER BY name`

func (q *Queries) ListInventoryItems(ctx context.Context) ([]InventoryItem, error) {
	rows, err := q.db.Query(ctx, listInventoryItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InventoryItem
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type CreateInventoryItemParams struct {
	Name     string
	Unit     string
	Quantity pgtype.Numeric
}

const createInventoryItem = `
INSERT INTO inventory_items (name, unit, quantity)
VALUES ($1, $2, $3)
RETURNING ` + inventoryItemColumns

func (q *Queries) CreateInventoryItem(ctx context.Context, arg CreateInventoryItemParams) (InventoryItem, error) {
	return scanInventoryItem(q.db.QueryRow(ctx, createInventoryItem, arg.Name, arg.Unit, arg.Quantity))
}

// AdjustInventoryQuantity applies a signed delta to the running stock level.
type AdjustInventoryQuantityParams struct {
	ID    uuid.UUID
	Delta pgtype.Numeric
}

const adjustInventoryQuantity = `
UPDATE inventory_items SET quantity = quantity + $2 WHERE id = $1
RETURNING ` + inventoryItemColumns

func (q *Queries) AdjustInventoryQuantity(ctx context.Context, arg AdjustInventoryQuantityParams) (InventoryItem, error) {
	return scanInventoryItem(q.db.QueryRow(ctx, adjustInventoryQuantity, arg.ID, arg.Delta))
}

type CreateInventoryMovementParams struct {
	InventoryItemID uuid.UUID
	Type            string
	Quantity        pgtype.Numeric
	Reason          string
	OrderID         pgtype.Text
}

const createInventoryMovement = `
INSERT INTO inventory_movements (inventory_item_id, type, quantity, reason, order_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, inventory_item_id, type, quantity, reason, order_id, created_at`

func (q *Queries) CreateInventoryMovement(ctx context.Context, arg CreateInventoryMovementParams) (InventoryMovement, error) {
	var m InventoryMovement
	err := q.db.QueryRow(ctx, createInventoryMovement,
		arg.InventoryItemID, arg.Type, arg.Quantity, arg.Reason, arg.OrderID,
	).Scan(&m.ID, &m.InventoryItemID, &m.Type, &m.Quantity, &m.Reason, &m.OrderID, &m.CreatedAt)
	return m, err
}

type ListInventoryMovementsParams struct {
	Limit  int32
	Offset int32
}

const listInventoryMovements = `
SELECT id, inventory_item_id, type, quantity, reason, order_id, created_at
FROM inventory_movements
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

func (q *Queries) ListInventoryMovements(ctx context.Context, arg ListInventoryMovementsParams) ([]InventoryMovement, error) {
	rows, err := q.db.Query(ctx, listInventoryMovements, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []InventoryMovement
	for rows.Next() {
		var m InventoryMovement
		if err := rows.Scan(&m.ID, &m.InventoryItemID, &m.Type, &m.Quantity, &m.Reason, &m.OrderID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
