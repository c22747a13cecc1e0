package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comanda-pos/api/internal/audit"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Errors returned by the order service.
var (
	ErrMissingOrder              = errors.New("order payload is required")
	ErrInvalidOrderType          = errors.New("invalid order type")
	ErrInvalidStatus             = errors.New("invalid order status")
	ErrInvalidTransition         = errors.New("status transition not allowed")
	ErrInvalidProductID          = errors.New("invalid product_id")
	ErrInvalidQuantity           = errors.New("quantity must be >= 0")
	ErrInvalidPrice              = errors.New("invalid price")
	ErrProductNotFound           = errors.New("product not found")
	ErrOrderNotFound             = errors.New("order not found")
	ErrFinalizedDeliveryOrder    = errors.New("items of a delivered delivery order cannot be edited")
	ErrInvalidTableNumber        = errors.New("invalid table number")
	ErrTableSessionNotFound      = errors.New("table session not found")
	ErrNothingPending            = errors.New("no pending digital items")
	ErrTableBilling              = errors.New("table is billing, item edits are blocked")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by order transitions.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	LedgerStore
	ClientStatsStore

	GetOrder(ctx context.Context, id string) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (database.Order, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error)
	UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error)
	ArchiveOrder(ctx context.Context, arg database.ArchiveOrderParams) error
	DeleteOrder(ctx context.Context, id string) error

	ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error)
	DeleteOrderItemsByOrder(ctx context.Context, orderID string) error
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	ClearItemSessionRefs(ctx context.Context, orderID string) error

	GetTableSession(ctx context.Context, tableNumber int32) (database.TableSession, error)
	CreateTableSession(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error)
	DeleteTableSession(ctx context.Context, tableNumber int32) (int64, error)

	UpsertReceivable(ctx context.Context, arg database.UpsertReceivableParams) (database.Receivable, error)
	UpdateReceivableAmount(ctx context.Context, arg database.UpdateReceivableAmountParams) error
	DeleteReceivableByOrder(ctx context.Context, orderID string) error

	CreateOrderRejection(ctx context.Context, arg database.CreateOrderRejectionParams) (database.OrderRejection, error)
	UpdateDriverStatus(ctx context.Context, arg database.UpdateDriverStatusParams) (database.Driver, error)

	CreateAuditEntry(ctx context.Context, arg database.CreateAuditEntryParams) (database.AuditEntry, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// OrderItemInput is one order line as submitted by a caller.
type OrderItemInput struct {
	ProductID    string
	Quantity     int32
	Price        string // decimal; empty snapshots the product's current price
	IsReady      bool
	Observations string
}

// UpsertOrderRequest is the validated create-or-replace payload.
type UpsertOrderRequest struct {
	ID            string // empty generates an opaque id
	Type          string
	Status        string // empty defaults to PREPARING
	DeliveryFee   string
	ClientID      string // empty resolves to the ANONYMOUS sentinel
	DriverID      string
	TableNumber   int32 // 0 means not table-bound
	PaymentMethod string
	PaymentStatus string
	DigitalPin    string
	DigitalToken  string
	Items         []OrderItemInput
}

// StatusPatchRequest updates status/driver/payment only. Nil fields are left
// untouched; a pointer to the empty string clears the driver.
type StatusPatchRequest struct {
	Status        *string
	DriverID      *string
	PaymentMethod *string
}

// OrderService owns the order state machine and its cross-entity side
// effects: stock reconciliation, client statistics, receivables, archival.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	ledger   *Ledger
	stats    *ClientStats
	pub      events.Publisher
	log      *logrus.Logger
}

func NewOrderService(pool TxBeginner, newStore NewOrderStore, ledger *Ledger, stats *ClientStats, pub events.Publisher, log *logrus.Logger) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, ledger: ledger, stats: stats, pub: pub, log: log}
}

// pendingEvent is an event held back until the transaction commits.
type pendingEvent struct {
	channel string
	event   events.Event
}

func (s *OrderService) flush(pending []pendingEvent) {
	for _, p := range pending {
		s.pub.Publish(p.channel, p.event)
	}
}

// processedItem is a validated, priced order line ready for insertion.
type processedItem struct {
	params database.CreateOrderItemParams
}

// processItems validates every line against the catalog (each product must
// exist), resolves price snapshots and returns the item total.
func processItems(ctx context.Context, store OrderStore, orderID string, items []OrderItemInput) ([]processedItem, decimal.Decimal, error) {
	total := decimal.Zero
	processed := make([]processedItem, 0, len(items))

	for i, item := range items {
		if item.Quantity < 0 {
			return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidProductID)
		}
		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrProductNotFound)
			}
			return nil, decimal.Zero, fmt.Errorf("items[%d]: get product: %w", i, err)
		}

		price := numericToDecimal(product.Price)
		if item.Price != "" {
			price, err = decimal.NewFromString(item.Price)
			if err != nil {
				return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidPrice)
			}
		}

		total = total.Add(price.Mul(decimal.NewFromInt32(item.Quantity)))

		readyAt := pgtype.Timestamptz{}
		if item.IsReady {
			readyAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		}
		processed = append(processed, processedItem{params: database.CreateOrderItemParams{
			OrderID:      orderID,
			ProductID:    productID,
			Quantity:     item.Quantity,
			Price:        decimalToNumeric(price),
			IsReady:      item.IsReady,
			ReadyAt:      readyAt,
			Observations: textOrNull(item.Observations),
		}})
	}
	return processed, total, nil
}

func ledgerItemsFromRows(rows []database.OrderItem) []LedgerItem {
	items := make([]LedgerItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, LedgerItem{ProductID: r.ProductID, Quantity: r.Quantity})
	}
	return items
}

func ledgerItemsFromProcessed(processed []processedItem) []LedgerItem {
	items := make([]LedgerItem, 0, len(processed))
	for _, p := range processed {
		items = append(items, LedgerItem{ProductID: p.params.ProductID, Quantity: p.params.Quantity})
	}
	return items
}

func validOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPreparing, enum.OrderStatusPartiallyReady,
		enum.OrderStatusReady, enum.OrderStatusOutForDelivery,
		enum.OrderStatusDelivered, enum.OrderStatusCancelled,
		enum.OrderStatusReopened:
		return true
	}
	return false
}

func validOrderType(t string) bool {
	switch t {
	case enum.OrderTypeCounter, enum.OrderTypeTable,
		enum.OrderTypeOwnDelivery, enum.OrderTypeAppDelivery:
		return true
	}
	return false
}

// allowedTransitions defines valid status transitions for the patch path.
// Kitchen flow may jump forward (PREPARING straight to READY) and step back
// while readiness flags change; DELIVERED can only be left through REOPENED.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPreparing: {
		enum.OrderStatusPartiallyReady, enum.OrderStatusReady,
		enum.OrderStatusOutForDelivery, enum.OrderStatusDelivered, enum.OrderStatusCancelled,
	},
	enum.OrderStatusPartiallyReady: {
		enum.OrderStatusPreparing, enum.OrderStatusReady,
		enum.OrderStatusOutForDelivery, enum.OrderStatusDelivered, enum.OrderStatusCancelled,
	},
	enum.OrderStatusReady: {
		enum.OrderStatusPreparing, enum.OrderStatusPartiallyReady,
		enum.OrderStatusOutForDelivery, enum.OrderStatusDelivered, enum.OrderStatusCancelled,
	},
	enum.OrderStatusOutForDelivery: {
		enum.OrderStatusReady, enum.OrderStatusDelivered, enum.OrderStatusCancelled,
	},
	enum.OrderStatusDelivered: {enum.OrderStatusReopened},
	enum.OrderStatusReopened: {
		enum.OrderStatusPreparing, enum.OrderStatusPartiallyReady,
		enum.OrderStatusReady, enum.OrderStatusOutForDelivery,
		enum.OrderStatusDelivered, enum.OrderStatusCancelled,
	},
}

func validateTransition(current, next string) error {
	if current == next {
		return nil
	}
	for _, allowed := range allowedTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// archiveTag builds the historical key for a finalized table order.
func archiveTag(tableNumber int32) string {
	return fmt.Sprintf("TABLE-%d-F-%d", tableNumber, time.Now().Unix())
}

// TableOrderID is the live shadow-order key for an open table.
func TableOrderID(tableNumber int32) string {
	return fmt.Sprintf("TABLE-%d", tableNumber)
}

// Upsert creates or wholesale-replaces an order. All side effects (stock,
// client statistics, receivable, table archival) commit atomically with the
// order row; events go out only after the commit.
func (s *OrderService) Upsert(ctx context.Context, req *UpsertOrderRequest) (*Result, error) {
	if req == nil {
		return nil, ErrMissingOrder
	}
	if !validOrderType(req.Type) {
		return nil, ErrInvalidOrderType
	}
	status := req.Status
	if status == "" {
		status = enum.OrderStatusPreparing
	}
	if !validOrderStatus(status) {
		return nil, ErrInvalidStatus
	}
	deliveryFee := decimal.Zero
	if req.DeliveryFee != "" {
		var err error
		deliveryFee, err = decimal.NewFromString(req.DeliveryFee)
		if err != nil {
			return nil, ErrInvalidPrice
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	orderID := req.ID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	// Row lock on the order id serializes concurrent writers (POS, kitchen,
	// scheduler) touching the same order.
	var existing *database.Order
	var prevItems []database.OrderItem
	if req.ID != "" {
		o, err := store.GetOrderForUpdate(ctx, req.ID)
		switch {
		case err == nil:
			existing = &o
			prevItems, err = store.ListOrderItemsByOrder(ctx, req.ID)
			if err != nil {
				return nil, fmt.Errorf("list previous items: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			// fresh order under a caller-chosen id
		default:
			return nil, fmt.Errorf("get order: %w", err)
		}
	}

	isNewItemsAdded := existing == nil || len(req.Items) > len(prevItems)

	clientID := req.ClientID
	if clientID == "" {
		clientID = enum.ClientAnonymous
	}
	if err := store.EnsureClient(ctx, database.EnsureClientParams{ID: clientID, Name: clientName(clientID)}); err != nil {
		return nil, fmt.Errorf("ensure client: %w", err)
	}

	processed, itemTotal, err := processItems(ctx, store, orderID, req.Items)
	if err != nil {
		return nil, err
	}
	total := itemTotal.Add(deliveryFee)

	prevStatus := ""
	if existing != nil {
		prevStatus = existing.Status
	}
	entersDelivered := status == enum.OrderStatusDelivered && prevStatus != enum.OrderStatusDelivered
	leavesDelivered := prevStatus == enum.OrderStatusDelivered && status != enum.OrderStatusDelivered

	// Driver assignment stamp: assigned_at is set exactly when the driver
	// reference goes from blank to a value, and cleared with it.
	assignedAt := pgtype.Timestamptz{}
	if req.DriverID != "" {
		if existing != nil && existing.DriverID.String == req.DriverID && existing.AssignedAt.Valid {
			assignedAt = existing.AssignedAt
		} else {
			assignedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		}
	}

	tableNumber := pgtype.Int4{}
	if req.TableNumber > 0 {
		tableNumber = pgtype.Int4{Int32: req.TableNumber, Valid: true}
	} else if existing != nil && existing.TableNumber.Valid && req.Type == enum.OrderTypeTable {
		tableNumber = existing.TableNumber
	}

	rowParams := database.UpdateOrderParams{
		ID:            orderID,
		Type:          req.Type,
		Status:        status,
		Total:         decimalToNumeric(total),
		DeliveryFee:   decimalToNumeric(deliveryFee),
		ClientID:      clientID,
		DriverID:      textOrNull(req.DriverID),
		AssignedAt:    assignedAt,
		TableNumber:   tableNumber,
		PaymentMethod: textOrNull(req.PaymentMethod),
		PaymentStatus: textOrNull(req.PaymentStatus),
		DigitalPin:    textOrNull(req.DigitalPin),
		DigitalToken:  textOrNull(req.DigitalToken),
	}

	var order database.Order
	if existing == nil {
		order, err = store.CreateOrder(ctx, database.CreateOrderParams(rowParams))
	} else {
		order, err = store.UpdateOrder(ctx, rowParams)
	}
	if err != nil {
		return nil, fmt.Errorf("write order: %w", err)
	}

	var warnings []string

	// Reversal first: returning out of DELIVERED gives the stock back for
	// the items that consumed it.
	if leavesDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromRows(prevItems), DirectionIncrement, orderID); err != nil {
			return nil, err
		}
		if err := s.stats.RevertOrder(ctx, store, order.ClientID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("client stats revert failed")
		}
		if err := store.DeleteReceivableByOrder(ctx, orderID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("receivable cleanup failed")
		}
	}

	// Replace all items atomically under the resolved order id.
	if err := store.DeleteOrderItemsByOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("clear items: %w", err)
	}
	items := make([]database.OrderItem, 0, len(processed))
	for _, p := range processed {
		it, err := store.CreateOrderItem(ctx, p.params)
		if err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		items = append(items, it)
	}

	var pending []pendingEvent

	if entersDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromProcessed(processed), DirectionDecrement, orderID); err != nil {
			return nil, err
		}
		if err := s.stats.RecordOrder(ctx, store, clientID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("client stats record failed")
		}

		finalID, tableEvents, err := s.finalizeTable(ctx, store, &order, tableNumber)
		if err != nil {
			return nil, err
		}
		pending = append(pending, tableEvents...)
		orderID = finalID

		if req.PaymentMethod == enum.PaymentMethodFiado && clientID != enum.ClientAnonymous {
			if _, err := store.UpsertReceivable(ctx, database.UpsertReceivableParams{
				ID:       "REC-" + orderID,
				OrderID:  orderID,
				ClientID: clientID,
				Amount:   decimalToNumeric(total),
				DueDate:  time.Now().AddDate(0, 0, 30),
			}); err != nil {
				warnings = append(warnings, err.Error())
				s.log.WithError(err).Warn("receivable upsert failed")
			}
		}

		order, err = store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("reload archived order: %w", err)
		}
		items, err = store.ListOrderItemsByOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("reload archived items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if isNewItemsAdded {
		ev := events.Event{Type: events.TypeNewOrder, Payload: orderEventPayload(order)}
		pending = append(pending, pendingEvent{events.ChannelKitchen, ev}, pendingEvent{events.ChannelPOS, ev})
	} else if prevStatus != status {
		ev := events.Event{Type: events.TypeOrderStatusChanged, Payload: orderEventPayload(order)}
		pending = append(pending, pendingEvent{events.ChannelKitchen, ev}, pendingEvent{events.ChannelPOS, ev})
		if order.TableNumber.Valid {
			pending = append(pending, pendingEvent{events.ChannelDigital(order.TableNumber.Int32), ev})
		}
	}
	s.flush(pending)

	return newResult(order, items, warnings), nil
}

// finalizeTable handles the archival rename of a table order reaching
// DELIVERED: release the session, detach the items, move the order to its
// historical key. Returns the order id to use from here on.
func (s *OrderService) finalizeTable(ctx context.Context, store OrderStore, order *database.Order, tableNumber pgtype.Int4) (string, []pendingEvent, error) {
	if order.Type != enum.OrderTypeTable || !tableNumber.Valid {
		return order.ID, nil, nil
	}

	// Session already gone is fine: releasing twice is a no-op.
	if _, err := store.DeleteTableSession(ctx, tableNumber.Int32); err != nil {
		return "", nil, fmt.Errorf("release table session: %w", err)
	}
	if err := store.ClearItemSessionRefs(ctx, order.ID); err != nil {
		return "", nil, fmt.Errorf("detach items: %w", err)
	}

	archivedID := archiveTag(tableNumber.Int32)
	if err := store.ArchiveOrder(ctx, database.ArchiveOrderParams{OldID: order.ID, NewID: archivedID}); err != nil {
		return "", nil, fmt.Errorf("archive order: %w", err)
	}

	ev := events.Event{Type: events.TypeTableStatusChanged, Payload: map[string]any{
		"tableNumber": tableNumber.Int32,
		"status":      enum.TableStatusAvailable,
	}}
	pending := []pendingEvent{
		{events.ChannelTables, ev},
		{events.ChannelDigital(tableNumber.Int32), ev},
	}
	return archivedID, pending, nil
}

// PatchStatus updates status, driver assignment and payment method only,
// applying the same inventory-direction and receivable rules as Upsert.
func (s *OrderService) PatchStatus(ctx context.Context, id string, req StatusPatchRequest) (*Result, error) {
	if id == "" {
		return nil, ErrMissingOrder
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	prevStatus := order.Status
	status := prevStatus
	if req.Status != nil {
		status = *req.Status
		if !validOrderStatus(status) {
			return nil, ErrInvalidStatus
		}
		if err := validateTransition(prevStatus, status); err != nil {
			return nil, err
		}
	}

	var pending []pendingEvent
	var warnings []string

	driverID := order.DriverID
	assignedAt := order.AssignedAt
	if req.DriverID != nil {
		next := *req.DriverID
		switch {
		case next == "" && order.DriverID.Valid && order.DriverID.String != "":
			// Manual unassignment: the timestamp dies with the reference and
			// the rejection is recorded as staff-initiated.
			if _, err := store.CreateOrderRejection(ctx, database.CreateOrderRejectionParams{
				OrderID:  id,
				DriverID: order.DriverID.String,
				Mode:     enum.RejectionManual,
			}); err != nil {
				return nil, fmt.Errorf("record rejection: %w", err)
			}
			driverID = pgtype.Text{}
			assignedAt = pgtype.Timestamptz{}
			pending = append(pending, pendingEvent{events.ChannelAll, events.Event{
				Type:    events.TypeDriversUpdated,
				Payload: map[string]any{"orderId": id},
			}})
		case next != "" && next != order.DriverID.String:
			driverID = pgtype.Text{String: next, Valid: true}
			assignedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		case next == "":
			driverID = pgtype.Text{}
			assignedAt = pgtype.Timestamptz{}
		}
	}

	paymentMethod := order.PaymentMethod
	if req.PaymentMethod != nil {
		paymentMethod = textOrNull(*req.PaymentMethod)
	}

	entersDelivered := status == enum.OrderStatusDelivered && prevStatus != enum.OrderStatusDelivered
	leavesDelivered := prevStatus == enum.OrderStatusDelivered && status != enum.OrderStatusDelivered

	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	order, err = store.UpdateOrder(ctx, database.UpdateOrderParams{
		ID:            id,
		Type:          order.Type,
		Status:        status,
		Total:         order.Total,
		DeliveryFee:   order.DeliveryFee,
		ClientID:      order.ClientID,
		DriverID:      driverID,
		AssignedAt:    assignedAt,
		TableNumber:   order.TableNumber,
		PaymentMethod: paymentMethod,
		PaymentStatus: order.PaymentStatus,
		DigitalPin:    order.DigitalPin,
		DigitalToken:  order.DigitalToken,
	})
	if err != nil {
		return nil, fmt.Errorf("write order: %w", err)
	}

	orderID := id
	if entersDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromRows(items), DirectionDecrement, orderID); err != nil {
			return nil, err
		}
		if err := s.stats.RecordOrder(ctx, store, order.ClientID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("client stats record failed")
		}

		finalID, tableEvents, err := s.finalizeTable(ctx, store, &order, order.TableNumber)
		if err != nil {
			return nil, err
		}
		pending = append(pending, tableEvents...)
		orderID = finalID

		if paymentMethod.String == enum.PaymentMethodFiado && order.ClientID != enum.ClientAnonymous {
			if _, err := store.UpsertReceivable(ctx, database.UpsertReceivableParams{
				ID:       "REC-" + orderID,
				OrderID:  orderID,
				ClientID: order.ClientID,
				Amount:   order.Total,
				DueDate:  time.Now().AddDate(0, 0, 30),
			}); err != nil {
				warnings = append(warnings, err.Error())
				s.log.WithError(err).Warn("receivable upsert failed")
			}
		}

		order, err = store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("reload order: %w", err)
		}
	}

	if leavesDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromRows(items), DirectionIncrement, orderID); err != nil {
			return nil, err
		}
		if err := s.stats.RevertOrder(ctx, store, order.ClientID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("client stats revert failed")
		}
		if err := store.DeleteReceivableByOrder(ctx, orderID); err != nil {
			warnings = append(warnings, err.Error())
			s.log.WithError(err).Warn("receivable cleanup failed")
		}

		// A reopened table order gets its session back from the pin/token
		// stored at finalization.
		if order.Type == enum.OrderTypeTable && order.TableNumber.Valid && order.DigitalPin.Valid {
			if restoreEv, err := s.restoreTableSession(ctx, store, order); err != nil {
				return nil, err
			} else if restoreEv != nil {
				pending = append(pending, *restoreEv)
			}
		}
	}

	items, err = store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if prevStatus != order.Status {
		ev := events.Event{Type: events.TypeOrderStatusChanged, Payload: orderEventPayload(order)}
		pending = append(pending, pendingEvent{events.ChannelKitchen, ev}, pendingEvent{events.ChannelPOS, ev})
		if order.TableNumber.Valid {
			pending = append(pending, pendingEvent{events.ChannelDigital(order.TableNumber.Int32), ev})
		}
	}
	s.flush(pending)

	return newResult(order, items, warnings), nil
}

// restoreTableSession recreates the session of a reopened table order.
func (s *OrderService) restoreTableSession(ctx context.Context, store OrderStore, order database.Order) (*pendingEvent, error) {
	if _, err := store.GetTableSession(ctx, order.TableNumber.Int32); err == nil {
		return nil, nil // another session took the table; leave it alone
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check session: %w", err)
	}

	if _, err := store.CreateTableSession(ctx, database.CreateTableSessionParams{
		TableNumber:        order.TableNumber.Int32,
		Status:             enum.TableStatusOccupied,
		HasPendingDigital:  false,
		PendingReviewItems: []byte("[]"),
		Pin:                order.DigitalPin.String,
		SessionToken:       order.DigitalToken.String,
		ClientID:           order.ClientID,
	}); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	return &pendingEvent{events.ChannelTables, events.Event{
		Type: events.TypeTableStatusChanged,
		Payload: map[string]any{
			"tableNumber": order.TableNumber.Int32,
			"status":      enum.TableStatusOccupied,
		},
	}}, nil
}

// PatchItems wholesale-replaces the item list and recomputes the total from
// the new items plus the order's existing delivery fee.
func (s *OrderService) PatchItems(ctx context.Context, id string, itemInputs []OrderItemInput) (*Result, error) {
	if id == "" {
		return nil, ErrMissingOrder
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if enum.IsDeliveryType(order.Type) && order.Status == enum.OrderStatusDelivered {
		return nil, ErrFinalizedDeliveryOrder
	}

	// A table that requested its bill is frozen until finalized or re-saved.
	if order.Type == enum.OrderTypeTable && order.TableNumber.Valid {
		session, err := store.GetTableSession(ctx, order.TableNumber.Int32)
		if err == nil && session.Status == enum.TableStatusBilling {
			return nil, ErrTableBilling
		} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("check session: %w", err)
		}
	}

	processed, itemTotal, err := processItems(ctx, store, id, itemInputs)
	if err != nil {
		return nil, err
	}

	oldItems, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	// For a finalized order stock was already consumed, so the edit must
	// re-reconcile: give the old set back, then take the new set. Identical
	// sets net to zero. Orders that never reached DELIVERED have moved no
	// stock and need no correction.
	if order.Status == enum.OrderStatusDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromRows(oldItems), DirectionIncrement, id); err != nil {
			return nil, err
		}
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromProcessed(processed), DirectionDecrement, id); err != nil {
			return nil, err
		}
	}

	if err := store.DeleteOrderItemsByOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("clear items: %w", err)
	}
	items := make([]database.OrderItem, 0, len(processed))
	for _, p := range processed {
		it, err := store.CreateOrderItem(ctx, p.params)
		if err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		items = append(items, it)
	}

	total := itemTotal.Add(numericToDecimal(order.DeliveryFee))
	order, err = store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{ID: id, Total: decimalToNumeric(total)})
	if err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}

	var warnings []string
	if err := store.UpdateReceivableAmount(ctx, database.UpdateReceivableAmountParams{
		OrderID: id,
		Amount:  decimalToNumeric(total),
	}); err != nil {
		warnings = append(warnings, err.Error())
		s.log.WithError(err).Warn("receivable amount update failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	ev := events.Event{Type: events.TypeOrderStatusChanged, Payload: orderEventPayload(order)}
	s.flush([]pendingEvent{{events.ChannelKitchen, ev}, {events.ChannelPOS, ev}})

	return newResult(order, items, warnings), nil
}

// Delete hard-removes an order, reversing its effects if it had finalized.
func (s *OrderService) Delete(ctx context.Context, id string, actor audit.Actor) (*Result, error) {
	if id == "" {
		return nil, ErrMissingOrder
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	var warnings []string
	if order.Status == enum.OrderStatusDelivered {
		if err := s.ledger.Apply(ctx, store, ledgerItemsFromRows(items), DirectionIncrement, id); err != nil {
			return nil, err
		}
		if order.ClientID != enum.ClientAnonymous {
			if err := s.stats.RevertOrder(ctx, store, order.ClientID); err != nil {
				warnings = append(warnings, err.Error())
				s.log.WithError(err).Warn("client stats revert failed")
			}
		}
		if err := store.DeleteReceivableByOrder(ctx, id); err != nil {
			return nil, fmt.Errorf("delete receivable: %w", err)
		}
	}

	if err := store.DeleteOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("delete order: %w", err)
	}

	if err := audit.Record(ctx, store, actor, "order.delete",
		fmt.Sprintf("order %s (%s, %s)", id, order.Type, order.Status)); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	ev := events.Event{Type: events.TypeOrderStatusChanged, Payload: map[string]any{
		"id":      id,
		"deleted": true,
	}}
	s.flush([]pendingEvent{{events.ChannelKitchen, ev}, {events.ChannelPOS, ev}})

	return newResult(order, nil, warnings), nil
}

// --- helpers ---

func clientName(clientID string) string {
	if clientID == enum.ClientAnonymous {
		return "Walk-in"
	}
	return clientID
}

func orderEventPayload(o database.Order) map[string]any {
	payload := map[string]any{
		"id":     o.ID,
		"type":   o.Type,
		"status": o.Status,
		"total":  numericToDecimal(o.Total).StringFixed(2),
	}
	if o.TableNumber.Valid {
		payload["tableNumber"] = o.TableNumber.Int32
	}
	if o.DriverID.Valid {
		payload["driverId"] = o.DriverID.String
	}
	return payload
}
