package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/events"
	"github.com/comanda-pos/api/internal/storegate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidPin          = errors.New("invalid table pin")
	ErrInvalidSessionToken = errors.New("invalid session token")
)

// TableStore defines the DB methods needed by table flows.
// Satisfied by *database.Queries.
type TableStore interface {
	OrderStore

	GetTableSessionForUpdate(ctx context.Context, tableNumber int32) (database.TableSession, error)
	GetTableSessionByToken(ctx context.Context, token string) (database.TableSession, error)
	ListTableSessions(ctx context.Context) ([]database.TableSession, error)
	UpdateTableSession(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error)
}

// NewTableStore creates a TableStore from a DBTX (pool or tx).
type NewTableStore func(db database.DBTX) TableStore

// pendingItem is one digital-menu line waiting for staff review, stored as
// JSON inside the session row.
type pendingItem struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	Quantity     int32  `json:"quantity"`
	Price        string `json:"price"`
	Observations string `json:"observations,omitempty"`
	OrderedBy    string `json:"orderedBy"`
	SubmittedAt  string `json:"submittedAt"`
}

// TableSaveRequest is the staff-side save of a table's running tab.
type TableSaveRequest struct {
	ClientID      string
	PaymentMethod string
	Items         []OrderItemInput
}

// DigitalOrderRequest is a guest submission from the digital menu.
type DigitalOrderRequest struct {
	TableNumber  int32
	SessionToken string // joins an existing session
	Pin          string // alternative join credential
	GuestName    string
	Lat          float64
	Lng          float64
	Items        []OrderItemInput
}

// DigitalOrderResult echoes the session credentials back to the guest.
type DigitalOrderResult struct {
	Session database.TableSession
	Created bool
}

// TableService manages table sessions and their shadow orders. A table's
// running tab lives in an order keyed TABLE-<n> until it is finalized and
// archived by the order service.
type TableService struct {
	pool     TxBeginner
	newStore NewTableStore
	gate     storegate.Gate
	pub      events.Publisher
	log      *logrus.Logger
}

func NewTableService(pool TxBeginner, newStore NewTableStore, gate storegate.Gate, pub events.Publisher, log *logrus.Logger) *TableService {
	return &TableService{pool: pool, newStore: newStore, gate: gate, pub: pub, log: log}
}

func generatePin() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}

// DerivedStatus computes a table order's status from its items' readiness.
func DerivedStatus(items []database.OrderItem) string {
	if len(items) == 0 {
		return enum.OrderStatusPreparing
	}
	ready := 0
	for _, it := range items {
		if it.IsReady {
			ready++
		}
	}
	switch ready {
	case 0:
		return enum.OrderStatusPreparing
	case len(items):
		return enum.OrderStatusReady
	default:
		return enum.OrderStatusPartiallyReady
	}
}

func (s *TableService) tableEvent(tableNumber int32, status string) []pendingEvent {
	ev := events.Event{Type: events.TypeTableStatusChanged, Payload: map[string]any{
		"tableNumber": tableNumber,
		"status":      status,
	}}
	return []pendingEvent{
		{events.ChannelTables, ev},
		{events.ChannelPOS, ev},
		{events.ChannelDigital(tableNumber), ev},
	}
}

func (s *TableService) flush(pending []pendingEvent) {
	for _, p := range pending {
		s.pub.Publish(p.channel, p.event)
	}
}

// List returns all open table sessions.
func (s *TableService) List(ctx context.Context, store TableStore) ([]database.TableSession, error) {
	return store.ListTableSessions(ctx)
}

// ResolveSessionToken maps a digital session token to its table number.
// Used by the websocket layer to place guest connections in the right room.
func (s *TableService) ResolveSessionToken(ctx context.Context, store TableStore, token string) (int32, error) {
	session, err := store.GetTableSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInvalidSessionToken
		}
		return 0, err
	}
	return session.TableNumber, nil
}

// Save replaces the table's tab with the given items. An empty item list
// releases the table. Stock is never touched here; it moves only when the
// order service finalizes the tab.
func (s *TableService) Save(ctx context.Context, tableNumber int32, req *TableSaveRequest) (*Result, error) {
	if tableNumber <= 0 {
		return nil, ErrInvalidTableNumber
	}
	if req == nil {
		return nil, ErrMissingOrder
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	var session *database.TableSession
	if sess, err := store.GetTableSessionForUpdate(ctx, tableNumber); err == nil {
		session = &sess
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session != nil && session.Status == enum.TableStatusBilling && len(req.Items) > 0 {
		return nil, ErrTableBilling
	}

	orderID := TableOrderID(tableNumber)

	if len(req.Items) == 0 {
		return s.release(ctx, tx, store, tableNumber, orderID)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = enum.ClientAnonymous
	}
	if err := store.EnsureClient(ctx, database.EnsureClientParams{ID: clientID, Name: clientName(clientID)}); err != nil {
		return nil, fmt.Errorf("ensure client: %w", err)
	}

	processed, total, err := processItems(ctx, store, orderID, req.Items)
	if err != nil {
		return nil, err
	}
	status := derivedStatusFromInputs(req.Items)

	var existing *database.Order
	var prevItems []database.OrderItem
	if o, err := store.GetOrderForUpdate(ctx, orderID); err == nil {
		existing = &o
		prevItems, err = store.ListOrderItemsByOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("list previous items: %w", err)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get order: %w", err)
	}

	pin := generatePin()
	token := uuid.NewString()
	if session != nil {
		pin = session.Pin
		token = session.SessionToken
	} else if existing != nil && existing.DigitalPin.Valid {
		pin = existing.DigitalPin.String
		token = existing.DigitalToken.String
	}

	rowParams := database.UpdateOrderParams{
		ID:            orderID,
		Type:          enum.OrderTypeTable,
		Status:        status,
		Total:         decimalToNumeric(total),
		DeliveryFee:   decimalToNumeric(decimal.Zero),
		ClientID:      clientID,
		TableNumber:   pgtype.Int4{Int32: tableNumber, Valid: true},
		PaymentMethod: textOrNull(req.PaymentMethod),
		DigitalPin:    textOrNull(pin),
		DigitalToken:  textOrNull(token),
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

	if session == nil {
		sess, err := store.CreateTableSession(ctx, database.CreateTableSessionParams{
			TableNumber:        tableNumber,
			Status:             enum.TableStatusOccupied,
			PendingReviewItems: []byte("[]"),
			Pin:                pin,
			SessionToken:       token,
			ClientID:           clientID,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		session = &sess
	} else {
		sess, err := store.UpdateTableSession(ctx, database.UpdateTableSessionParams{
			TableNumber:        tableNumber,
			Status:             enum.TableStatusOccupied,
			HasPendingDigital:  session.HasPendingDigital,
			PendingReviewItems: session.PendingReviewItems,
			ClientID:           clientID,
		})
		if err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
		session = &sess
	}

	if err := store.DeleteOrderItemsByOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("clear items: %w", err)
	}
	items := make([]database.OrderItem, 0, len(processed))
	for _, p := range processed {
		p.params.TableSessionID = pgtype.UUID{Bytes: session.ID, Valid: true}
		it, err := store.CreateOrderItem(ctx, p.params)
		if err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		items = append(items, it)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	pending := s.tableEvent(tableNumber, enum.TableStatusOccupied)
	if len(req.Items) > len(prevItems) {
		ev := events.Event{Type: events.TypeNewOrder, Payload: orderEventPayload(order)}
		pending = append(pending, pendingEvent{events.ChannelKitchen, ev}, pendingEvent{events.ChannelPOS, ev})
	}
	s.flush(pending)

	return newResult(order, items, nil), nil
}

// derivedStatusFromInputs mirrors DerivedStatus for unsaved inputs.
func derivedStatusFromInputs(items []OrderItemInput) string {
	ready := 0
	for _, it := range items {
		if it.IsReady {
			ready++
		}
	}
	switch {
	case len(items) == 0 || ready == 0:
		return enum.OrderStatusPreparing
	case ready == len(items):
		return enum.OrderStatusReady
	default:
		return enum.OrderStatusPartiallyReady
	}
}

// release frees the table: drop the shadow order and its session.
func (s *TableService) release(ctx context.Context, tx pgx.Tx, store TableStore, tableNumber int32, orderID string) (*Result, error) {
	if _, err := store.GetOrder(ctx, orderID); err == nil {
		if err := store.DeleteOrder(ctx, orderID); err != nil {
			return nil, fmt.Errorf("delete order: %w", err)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if _, err := store.DeleteTableSession(ctx, tableNumber); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.flush(s.tableEvent(tableNumber, enum.TableStatusAvailable))
	return &Result{Outcome: OutcomeCommitted}, nil
}

// Delete releases a table regardless of its tab. Idempotent: releasing an
// already-free table succeeds.
func (s *TableService) Delete(ctx context.Context, tableNumber int32) error {
	if tableNumber <= 0 {
		return ErrInvalidTableNumber
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	_, err = s.release(ctx, tx, store, tableNumber, TableOrderID(tableNumber))
	return err
}

// SubmitDigitalOrder takes a guest submission from the digital menu and
// queues it for staff review. The first submission on a free table opens the
// session and mints its credentials; later guests join with the pin or token.
func (s *TableService) SubmitDigitalOrder(ctx context.Context, req *DigitalOrderRequest) (*DigitalOrderResult, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, ErrMissingOrder
	}
	if req.TableNumber <= 0 {
		return nil, ErrInvalidTableNumber
	}
	if err := s.gate.Allow(ctx, req.Lat, req.Lng); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	var session *database.TableSession
	if sess, err := store.GetTableSessionForUpdate(ctx, req.TableNumber); err == nil {
		session = &sess
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	created := false
	if session == nil {
		sess, err := store.CreateTableSession(ctx, database.CreateTableSessionParams{
			TableNumber:        req.TableNumber,
			Status:             enum.TableStatusPendingDigital,
			HasPendingDigital:  true,
			PendingReviewItems: []byte("[]"),
			Pin:                generatePin(),
			SessionToken:       uuid.NewString(),
			ClientID:           enum.ClientAnonymous,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		session = &sess
		created = true
	} else {
		// Joining an open session requires one of its credentials.
		switch {
		case req.SessionToken != "" && req.SessionToken == session.SessionToken:
		case req.Pin != "" && req.Pin == session.Pin:
		default:
			return nil, ErrInvalidPin
		}
	}

	var queue []pendingItem
	if len(session.PendingReviewItems) > 0 {
		if err := json.Unmarshal(session.PendingReviewItems, &queue); err != nil {
			return nil, fmt.Errorf("decode pending queue: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidProductID)
		}
		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("items[%d]: %w", i, ErrProductNotFound)
			}
			return nil, fmt.Errorf("items[%d]: get product: %w", i, err)
		}
		queue = append(queue, pendingItem{
			ProductID:    product.ID.String(),
			Name:         product.Name,
			Quantity:     item.Quantity,
			Price:        numericToDecimal(product.Price).StringFixed(2),
			Observations: item.Observations,
			OrderedBy:    req.GuestName,
			SubmittedAt:  now,
		})
	}

	raw, err := json.Marshal(queue)
	if err != nil {
		return nil, fmt.Errorf("encode pending queue: %w", err)
	}

	status := session.Status
	if status == enum.TableStatusAvailable {
		status = enum.TableStatusPendingDigital
	}
	sess, err := store.UpdateTableSession(ctx, database.UpdateTableSessionParams{
		TableNumber:        req.TableNumber,
		Status:             status,
		HasPendingDigital:  true,
		PendingReviewItems: raw,
		ClientID:           session.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	ev := events.Event{Type: events.TypeTableStatusChanged, Payload: map[string]any{
		"tableNumber":       req.TableNumber,
		"status":            sess.Status,
		"hasPendingDigital": true,
		"guestName":         req.GuestName,
	}}
	s.flush([]pendingEvent{{events.ChannelTables, ev}, {events.ChannelPOS, ev}})

	return &DigitalOrderResult{Session: sess, Created: created}, nil
}

// ApprovePending moves the session's queued digital items onto the table's
// tab. Quantities append rather than replace what the waiter already rang up.
func (s *TableService) ApprovePending(ctx context.Context, tableNumber int32) (*Result, error) {
	if tableNumber <= 0 {
		return nil, ErrInvalidTableNumber
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, err := store.GetTableSessionForUpdate(ctx, tableNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTableSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var queue []pendingItem
	if len(session.PendingReviewItems) > 0 {
		if err := json.Unmarshal(session.PendingReviewItems, &queue); err != nil {
			return nil, fmt.Errorf("decode pending queue: %w", err)
		}
	}
	if len(queue) == 0 {
		return nil, ErrNothingPending
	}

	orderID := TableOrderID(tableNumber)

	var order database.Order
	if o, err := store.GetOrderForUpdate(ctx, orderID); err == nil {
		order = o
	} else if errors.Is(err, pgx.ErrNoRows) {
		order, err = store.CreateOrder(ctx, database.CreateOrderParams{
			ID:           orderID,
			Type:         enum.OrderTypeTable,
			Status:       enum.OrderStatusPreparing,
			Total:        decimalToNumeric(decimal.Zero),
			DeliveryFee:  decimalToNumeric(decimal.Zero),
			ClientID:     session.ClientID,
			TableNumber:  pgtype.Int4{Int32: tableNumber, Valid: true},
			DigitalPin:   textOrNull(session.Pin),
			DigitalToken: textOrNull(session.SessionToken),
		})
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
	} else {
		return nil, fmt.Errorf("get order: %w", err)
	}

	for i, p := range queue {
		productID, err := uuid.Parse(p.ProductID)
		if err != nil {
			return nil, fmt.Errorf("pending[%d]: %w", i, ErrInvalidProductID)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("pending[%d]: %w", i, ErrInvalidPrice)
		}
		if _, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:        orderID,
			ProductID:      productID,
			Quantity:       p.Quantity,
			Price:          decimalToNumeric(price),
			Observations:   textOrNull(p.Observations),
			TableSessionID: pgtype.UUID{Bytes: session.ID, Valid: true},
		}); err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
	}

	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(numericToDecimal(it.Price).Mul(decimal.NewFromInt32(it.Quantity)))
	}
	order, err = store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{ID: orderID, Total: decimalToNumeric(total)})
	if err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}

	if _, err := store.UpdateTableSession(ctx, database.UpdateTableSessionParams{
		TableNumber:        tableNumber,
		Status:             enum.TableStatusOccupied,
		HasPendingDigital:  false,
		PendingReviewItems: []byte("[]"),
		ClientID:           session.ClientID,
	}); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	pending := s.tableEvent(tableNumber, enum.TableStatusOccupied)
	ev := events.Event{Type: events.TypeNewOrder, Payload: orderEventPayload(order)}
	pending = append(pending, pendingEvent{events.ChannelKitchen, ev}, pendingEvent{events.ChannelPOS, ev})
	s.flush(pending)

	return newResult(order, items, nil), nil
}

// RejectPending discards the queued digital items. A session opened purely
// by the rejected submission goes back to available.
func (s *TableService) RejectPending(ctx context.Context, tableNumber int32) error {
	if tableNumber <= 0 {
		return ErrInvalidTableNumber
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, err := store.GetTableSessionForUpdate(ctx, tableNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTableSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	hasTab := true
	if _, err := store.GetOrder(ctx, TableOrderID(tableNumber)); errors.Is(err, pgx.ErrNoRows) {
		hasTab = false
	} else if err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	status := enum.TableStatusOccupied
	if hasTab {
		if _, err := store.UpdateTableSession(ctx, database.UpdateTableSessionParams{
			TableNumber:        tableNumber,
			Status:             status,
			HasPendingDigital:  false,
			PendingReviewItems: []byte("[]"),
			ClientID:           session.ClientID,
		}); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	} else {
		status = enum.TableStatusAvailable
		if _, err := store.DeleteTableSession(ctx, tableNumber); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	pending := s.tableEvent(tableNumber, status)
	pending = append(pending, pendingEvent{events.ChannelDigital(tableNumber), events.Event{
		Type:    events.TypeDigitalOrderCancelled,
		Payload: map[string]any{"tableNumber": tableNumber},
	}})
	s.flush(pending)
	return nil
}

// RequestBill flips the session into billing, which freezes the tab until
// the order is finalized or the bill request is withdrawn by a fresh save.
func (s *TableService) RequestBill(ctx context.Context, tableNumber int32, sessionToken string) error {
	if tableNumber <= 0 && sessionToken == "" {
		return ErrInvalidTableNumber
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if sessionToken != "" {
		n, err := s.ResolveSessionToken(ctx, store, sessionToken)
		if err != nil {
			return err
		}
		tableNumber = n
	}

	session, err := store.GetTableSessionForUpdate(ctx, tableNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTableSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	if _, err := store.UpdateTableSession(ctx, database.UpdateTableSessionParams{
		TableNumber:        tableNumber,
		Status:             enum.TableStatusBilling,
		HasPendingDigital:  session.HasPendingDigital,
		PendingReviewItems: session.PendingReviewItems,
		ClientID:           session.ClientID,
	}); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.flush(s.tableEvent(tableNumber, enum.TableStatusBilling))
	return nil
}
