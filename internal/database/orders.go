package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, type, status, total, delivery_fee, client_id, driver_id,
	assigned_at, table_number, payment_method, payment_status, digital_pin,
	digital_token, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Type, &o.Status, &o.Total, &o.DeliveryFee, &o.ClientID,
		&o.DriverID, &o.AssignedAt, &o.TableNumber, &o.PaymentMethod,
		&o.PaymentStatus, &o.DigitalPin, &o.DigitalToken, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

// GetOrderForUpdate takes a row lock so concurrent writers on the same order
// id serialize at the storage layer.
const getOrderForUpdate = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

type ListOrdersParams struct {
	Status pgtype.Text
	Type   pgtype.Text
	Limit  int32
	Offset int32
}

const listOrders = `
SELECT ` + orderColumns + ` FROM orders
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR type = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.Status, arg.Type, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateOrderParams struct {
	ID            string
	Type          string
	Status        string
	Total         pgtype.Numeric
	DeliveryFee   pgtype.Numeric
	ClientID      string
	DriverID      pgtype.Text
	AssignedAt    pgtype.Timestamptz
	TableNumber   pgtype.Int4
	PaymentMethod pgtype.Text
	PaymentStatus pgtype.Text
	DigitalPin    pgtype.Text
	DigitalToken  pgtype.Text
}

const createOrder = `
INSERT INTO orders (
	id, type, status, total, delivery_fee, client_id, driver_id, assigned_at,
	table_number, payment_method, payment_status, digital_pin, digital_token
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + orderColumns

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.ID, arg.Type, arg.Status, arg.Total, arg.DeliveryFee, arg.ClientID,
		arg.DriverID, arg.AssignedAt, arg.TableNumber, arg.PaymentMethod,
		arg.PaymentStatus, arg.DigitalPin, arg.DigitalToken,
	))
}

type UpdateOrderParams struct {
	ID            string
	Type          string
	Status        string
	Total         pgtype.Numeric
	DeliveryFee   pgtype.Numeric
	ClientID      string
	DriverID      pgtype.Text
	AssignedAt    pgtype.Timestamptz
	TableNumber   pgtype.Int4
	PaymentMethod pgtype.Text
	PaymentStatus pgtype.Text
	DigitalPin    pgtype.Text
	DigitalToken  pgtype.Text
}

const updateOrder = `
UPDATE orders SET
	type = $2, status = $3, total = $4, delivery_fee = $5, client_id = $6,
	driver_id = $7, assigned_at = $8, table_number = $9, payment_method = $10,
	payment_status = $11, digital_pin = $12, digital_token = $13, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

func (q *Queries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrder,
		arg.ID, arg.Type, arg.Status, arg.Total, arg.DeliveryFee, arg.ClientID,
		arg.DriverID, arg.AssignedAt, arg.TableNumber, arg.PaymentMethod,
		arg.PaymentStatus, arg.DigitalPin, arg.DigitalToken,
	))
}

type UpdateOrderTotalParams struct {
	ID    string
	Total pgtype.Numeric
}

const updateOrderTotal = `
UPDATE orders SET total = $2, updated_at = now() WHERE id = $1
RETURNING ` + orderColumns

func (q *Queries) UpdateOrderTotal(ctx context.Context, arg UpdateOrderTotalParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderTotal, arg.ID, arg.Total))
}

// ArchiveOrder moves a finalized order to its historical key: copy the row
// under the new id, repoint the items, then remove the old row. All three
// statements run inside the caller's transaction.
type ArchiveOrderParams struct {
	OldID string
	NewID string
}

const archiveOrderCopy = `
INSERT INTO orders (id, type, status, total, delivery_fee, client_id, driver_id,
	assigned_at, table_number, payment_method, payment_status, digital_pin,
	digital_token, created_at, updated_at)
SELECT $2, type, status, total, delivery_fee, client_id, driver_id, assigned_at,
	table_number, payment_method, payment_status, digital_pin, digital_token,
	created_at, now()
FROM orders WHERE id = $1`

const archiveOrderMoveItems = `UPDATE order_items SET order_id = $2 WHERE order_id = $1`

const archiveOrderDeleteOld = `DELETE FROM orders WHERE id = $1`

func (q *Queries) ArchiveOrder(ctx context.Context, arg ArchiveOrderParams) error {
	if _, err := q.db.Exec(ctx, archiveOrderCopy, arg.OldID, arg.NewID); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, archiveOrderMoveItems, arg.OldID, arg.NewID); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx, archiveOrderDeleteOld, arg.OldID)
	return err
}

const deleteOrder = `DELETE FROM orders WHERE id = $1`

func (q *Queries) DeleteOrder(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, deleteOrder, id)
	return err
}

// ListStalledReadyOrders finds READY orders whose driver was assigned before
// the cutoff. A plain read: each candidate is re-checked under a row lock
// before the sweep reverts it.
const listStalledReadyOrders = `
SELECT ` + orderColumns + ` FROM orders
WHERE status = 'READY'
  AND driver_id IS NOT NULL AND driver_id <> ''
  AND assigned_at IS NOT NULL AND assigned_at < $1
ORDER BY assigned_at`

func (q *Queries) ListStalledReadyOrders(ctx context.Context, cutoff pgtype.Timestamptz) ([]Order, error) {
	rows, err := q.db.Query(ctx, listStalledReadyOrders, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// HealMissingAssignedAt stamps assigned_at for READY orders that have a driver
// but lost the timestamp to a write race.
const healMissingAssignedAt = `
UPDATE orders SET assigned_at = now(), updated_at = now()
WHERE status = 'READY' AND driver_id IS NOT NULL AND driver_id <> '' AND assigned_at IS NULL`

func (q *Queries) HealMissingAssignedAt(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, healMissingAssignedAt)
	return tag.RowsAffected(), err
}

type ClearOrderDriverParams struct {
	ID string
}

const clearOrderDriver = `
UPDATE orders SET driver_id = NULL, assigned_at = NULL, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

func (q *Queries) ClearOrderDriver(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, clearOrderDriver, id))
}

// --- order items ---

const orderItemColumns = `id, order_id, product_id, quantity, price, is_ready,
	ready_at, observations, table_session_id`

func scanOrderItem(row pgx.Row) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price,
		&it.IsReady, &it.ReadyAt, &it.Observations, &it.TableSessionID,
	)
	return it, err
}

type CreateOrderItemParams struct {
	OrderID        string
	ProductID      uuid.UUID
	Quantity       int32
	Price          pgtype.Numeric
	IsReady        bool
	ReadyAt        pgtype.Timestamptz
	Observations   pgtype.Text
	TableSessionID pgtype.UUID
}

const createOrderItem = `
INSERT INTO order_items (order_id, product_id, quantity, price, is_ready,
	ready_at, observations, table_session_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + orderItemColumns

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID, arg.ProductID, arg.Quantity, arg.Price, arg.IsReady,
		arg.ReadyAt, arg.Observations, arg.TableSessionID,
	))
}

const listOrderItemsByOrder = `
SELECT ` + orderItemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY id`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const deleteOrderItemsByOrder = `DELETE FROM order_items WHERE order_id = $1`

func (q *Queries) DeleteOrderItemsByOrder(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx, deleteOrderItemsByOrder, orderID)
	return err
}

// ClearItemSessionRefs detaches delivered items from their table session.
const clearItemSessionRefs = `
UPDATE order_items SET table_session_id = NULL WHERE order_id = $1`

func (q *Queries) ClearItemSessionRefs(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx, clearItemSessionRefs, orderID)
	return err
}

type CreateOrderRejectionParams struct {
	OrderID  string
	DriverID string
	Mode     string
}

const createOrderRejection = `
INSERT INTO order_rejections (order_id, driver_id, mode)
VALUES ($1, $2, $3)
RETURNING id, order_id, driver_id, mode, created_at`

func (q *Queries) CreateOrderRejection(ctx context.Context, arg CreateOrderRejectionParams) (OrderRejection, error) {
	var r OrderRejection
	err := q.db.QueryRow(ctx, createOrderRejection, arg.OrderID, arg.DriverID, arg.Mode).
		Scan(&r.ID, &r.OrderID, &r.DriverID, &r.Mode, &r.CreatedAt)
	return r, err
}
