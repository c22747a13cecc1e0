package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/events"
	"github.com/comanda-pos/api/internal/storegate"
)

type allowGate struct{}

func (allowGate) Allow(context.Context, float64, float64) error { return nil }

type closedGate struct{}

func (closedGate) Allow(context.Context, float64, float64) error { return storegate.ErrStoreClosed }

// tableBaseStore extends baseStore with session-method defaults: no open
// session, echoing updates.
func tableBaseStore(productID uuid.UUID) *mockStore {
	m, _, _ := baseStore(productID, uuid.New())
	m.getSessionForUpdateFn = func(ctx context.Context, tableNumber int32) (database.TableSession, error) {
		return database.TableSession{}, pgx.ErrNoRows
	}
	m.getSessionByTokenFn = func(ctx context.Context, token string) (database.TableSession, error) {
		return database.TableSession{}, pgx.ErrNoRows
	}
	m.listSessionsFn = func(ctx context.Context) ([]database.TableSession, error) { return nil, nil }
	m.updateSessionFn = func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
		return database.TableSession{
			ID:                 uuid.New(),
			TableNumber:        arg.TableNumber,
			Status:             arg.Status,
			HasPendingDigital:  arg.HasPendingDigital,
			PendingReviewItems: arg.PendingReviewItems,
			ClientID:           arg.ClientID,
		}, nil
	}
	return m
}

func newTestTableService(store *mockStore, gate storegate.Gate) (*TableService, *mockTx, *capturingPublisher) {
	tx := &mockTx{}
	pub := &capturingPublisher{}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := NewTableService(&mockTxBeginner{tx: tx}, func(db database.DBTX) TableStore { return store }, gate, pub, log)
	return svc, tx, pub
}

// --- Save ---

func TestSaveOpensTabWithDerivedStatus(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)

	var created database.CreateOrderParams
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		created = arg
		return orderFromCreateParams(arg), nil
	}
	sessionID := uuid.New()
	var sessionCreated *database.CreateTableSessionParams
	store.createSessionFn = func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
		sessionCreated = &arg
		return database.TableSession{ID: sessionID, TableNumber: arg.TableNumber, Status: arg.Status, Pin: arg.Pin, SessionToken: arg.SessionToken}, nil
	}
	var itemParams []database.CreateOrderItemParams
	store.createItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		itemParams = append(itemParams, arg)
		return database.OrderItem{ID: uuid.New(), OrderID: arg.OrderID, ProductID: arg.ProductID, Quantity: arg.Quantity, Price: arg.Price}, nil
	}

	svc, tx, pub := newTestTableService(store, allowGate{})
	_, err := svc.Save(context.Background(), 5, &TableSaveRequest{
		Items: []OrderItemInput{
			{ProductID: productID.String(), Quantity: 1, IsReady: true},
			{ProductID: productID.String(), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if created.ID != "TABLE-5" || created.Type != enum.OrderTypeTable {
		t.Errorf("order = %s/%s, want TABLE-5/TABLE", created.ID, created.Type)
	}
	if created.Status != enum.OrderStatusPartiallyReady {
		t.Errorf("status = %s, want PARTIALLY_READY (one of two ready)", created.Status)
	}
	if !numericEquals(created.Total, "55.50") {
		t.Errorf("total = %v, want 55.50", numericToDecimal(created.Total))
	}
	if sessionCreated == nil {
		t.Fatal("session not created")
	}
	if sessionCreated.Status != enum.TableStatusOccupied {
		t.Errorf("session status = %s, want occupied", sessionCreated.Status)
	}
	if len(sessionCreated.Pin) != 4 || sessionCreated.SessionToken == "" {
		t.Errorf("session credentials not minted: pin=%q token=%q", sessionCreated.Pin, sessionCreated.SessionToken)
	}
	for i, p := range itemParams {
		if !p.TableSessionID.Valid || p.TableSessionID.Bytes != [16]byte(sessionID) {
			t.Errorf("item %d not linked to session", i)
		}
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
	if got := pub.byType(events.TypeNewOrder); len(got) != 2 {
		t.Errorf("newOrder events = %d, want 2", len(got))
	}
	if got := pub.byType(events.TypeTableStatusChanged); len(got) == 0 {
		t.Error("table status event not published")
	}
}

func TestSaveEmptyItemsReleasesTable(t *testing.T) {
	store := tableBaseStore(uuid.New())
	store.getSessionForUpdateFn = func(ctx context.Context, tableNumber int32) (database.TableSession, error) {
		return database.TableSession{ID: uuid.New(), TableNumber: tableNumber, Status: enum.TableStatusOccupied}, nil
	}
	var deletedOrder string
	store.deleteOrderFn = func(ctx context.Context, id string) error {
		deletedOrder = id
		return nil
	}
	var deletedTable int32
	store.deleteSessionFn = func(ctx context.Context, tableNumber int32) (int64, error) {
		deletedTable = tableNumber
		return 1, nil
	}

	svc, tx, pub := newTestTableService(store, allowGate{})
	result, err := svc.Save(context.Background(), 3, &TableSaveRequest{})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if deletedOrder != "TABLE-3" {
		t.Errorf("deleted order = %q, want TABLE-3", deletedOrder)
	}
	if deletedTable != 3 {
		t.Errorf("deleted session for table %d, want 3", deletedTable)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
	if result.Outcome != OutcomeCommitted {
		t.Errorf("outcome = %s, want COMMITTED", result.Outcome)
	}
	if got := pub.byType(events.TypeTableStatusChanged); len(got) == 0 {
		t.Error("release event not published")
	}
}

func TestSaveBillingBlocksEdits(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)
	store.getSessionForUpdateFn = func(ctx context.Context, tableNumber int32) (database.TableSession, error) {
		return database.TableSession{TableNumber: tableNumber, Status: enum.TableStatusBilling}, nil
	}

	svc, tx, _ := newTestTableService(store, allowGate{})
	_, err := svc.Save(context.Background(), 3, &TableSaveRequest{
		Items: []OrderItemInput{{ProductID: productID.String(), Quantity: 1}},
	})
	if !errors.Is(err, ErrTableBilling) {
		t.Fatalf("err = %v, want ErrTableBilling", err)
	}
	if tx.committed {
		t.Error("transaction committed despite billing freeze")
	}
}

func TestSaveKeepsSessionCredentials(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)
	store.getSessionForUpdateFn = func(ctx context.Context, tableNumber int32) (database.TableSession, error) {
		return database.TableSession{
			ID:                 uuid.New(),
			TableNumber:        tableNumber,
			Status:             enum.TableStatusOccupied,
			PendingReviewItems: []byte("[]"),
			Pin:                "7777",
			SessionToken:       "tok-keep",
		}, nil
	}
	store.getOrderForUpdateFn = func(ctx context.Context, id string) (database.Order, error) {
		return database.Order{ID: id, Type: enum.OrderTypeTable, Status: enum.OrderStatusPreparing, ClientID: enum.ClientAnonymous}, nil
	}
	var updated database.UpdateOrderParams
	store.updateOrderFn = func(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error) {
		updated = arg
		return orderFromCreateParams(database.CreateOrderParams(arg)), nil
	}

	svc, _, _ := newTestTableService(store, allowGate{})
	_, err := svc.Save(context.Background(), 3, &TableSaveRequest{
		Items: []OrderItemInput{{ProductID: productID.String(), Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if updated.DigitalPin.String != "7777" || updated.DigitalToken.String != "tok-keep" {
		t.Errorf("credentials = %s/%s, want 7777/tok-keep", updated.DigitalPin.String, updated.DigitalToken.String)
	}
}

func TestDeleteTableIdempotent(t *testing.T) {
	store := tableBaseStore(uuid.New())
	store.getOrderFn = func(ctx context.Context, id string) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	store.deleteSessionFn = func(ctx context.Context, tableNumber int32) (int64, error) { return 0, nil }

	svc, _, _ := newTestTableService(store, allowGate{})
	if err := svc.Delete(context.Background(), 9); err != nil {
		t.Fatalf("Delete of a free table returned error: %v", err)
	}
}

// --- SubmitDigitalOrder ---

func TestSubmitDigitalOrderOpensSession(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)

	var sessionCreated *database.CreateTableSessionParams
	store.createSessionFn = func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
		sessionCreated = &arg
		return database.TableSession{
			ID:                 uuid.New(),
			TableNumber:        arg.TableNumber,
			Status:             arg.Status,
			HasPendingDigital:  arg.HasPendingDigital,
			PendingReviewItems: arg.PendingReviewItems,
			Pin:                arg.Pin,
			SessionToken:       arg.SessionToken,
			ClientID:           arg.ClientID,
		}, nil
	}
	var sessionUpdated *database.UpdateTableSessionParams
	store.updateSessionFn = func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
		sessionUpdated = &arg
		return database.TableSession{TableNumber: arg.TableNumber, Status: arg.Status, HasPendingDigital: arg.HasPendingDigital, PendingReviewItems: arg.PendingReviewItems}, nil
	}

	svc, _, pub := newTestTableService(store, allowGate{})
	result, err := svc.SubmitDigitalOrder(context.Background(), &DigitalOrderRequest{
		TableNumber: 4,
		GuestName:   "Pedro",
		Items:       []OrderItemInput{{ProductID: productID.String(), Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("SubmitDigitalOrder returned error: %v", err)
	}

	if !result.Created {
		t.Error("result.Created = false, want true for a fresh table")
	}
	if sessionCreated == nil {
		t.Fatal("session not created")
	}
	if sessionCreated.Status != enum.TableStatusPendingDigital {
		t.Errorf("session status = %s, want pending_digital", sessionCreated.Status)
	}
	if len(sessionCreated.Pin) != 4 || sessionCreated.SessionToken == "" {
		t.Errorf("credentials not minted: pin=%q token=%q", sessionCreated.Pin, sessionCreated.SessionToken)
	}
	if sessionUpdated == nil {
		t.Fatal("queue not written")
	}
	if !sessionUpdated.HasPendingDigital {
		t.Error("has_pending_digital not set")
	}
	var queue []pendingItem
	if err := json.Unmarshal(sessionUpdated.PendingReviewItems, &queue); err != nil {
		t.Fatalf("queue decode: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(queue))
	}
	if queue[0].Price != "18.50" || queue[0].Quantity != 2 || queue[0].Name != "Grilled Chicken Plate" {
		t.Errorf("queued item = %+v, want priced catalog snapshot", queue[0])
	}
	if queue[0].OrderedBy != "Pedro" {
		t.Errorf("queued item orderedBy = %q, want Pedro", queue[0].OrderedBy)
	}
	if got := pub.byType(events.TypeTableStatusChanged); len(got) == 0 {
		t.Error("pending-digital event not published")
	}
}

func TestSubmitDigitalOrderCredentials(t *testing.T) {
	productID := uuid.New()

	openSession := func(tableNumber int32) (database.TableSession, error) {
		return database.TableSession{
			ID:                 uuid.New(),
			TableNumber:        tableNumber,
			Status:             enum.TableStatusOccupied,
			PendingReviewItems: []byte("[]"),
			Pin:                "1234",
			SessionToken:       "tok-abc",
			ClientID:           enum.ClientAnonymous,
		}, nil
	}

	t.Run("wrong pin rejected", func(t *testing.T) {
		store := tableBaseStore(productID)
		store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) { return openSession(n) }

		svc, _, _ := newTestTableService(store, allowGate{})
		_, err := svc.SubmitDigitalOrder(context.Background(), &DigitalOrderRequest{
			TableNumber: 4,
			Pin:         "0000",
			Items:       []OrderItemInput{{ProductID: productID.String(), Quantity: 1}},
		})
		if !errors.Is(err, ErrInvalidPin) {
			t.Fatalf("err = %v, want ErrInvalidPin", err)
		}
	})

	t.Run("token joins session", func(t *testing.T) {
		store := tableBaseStore(productID)
		store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) { return openSession(n) }

		svc, _, _ := newTestTableService(store, allowGate{})
		result, err := svc.SubmitDigitalOrder(context.Background(), &DigitalOrderRequest{
			TableNumber:  4,
			SessionToken: "tok-abc",
			Items:        []OrderItemInput{{ProductID: productID.String(), Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("SubmitDigitalOrder returned error: %v", err)
		}
		if result.Created {
			t.Error("result.Created = true, want false when joining")
		}
	})
}

func TestSubmitDigitalOrderStoreClosed(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)

	svc, tx, _ := newTestTableService(store, closedGate{})
	_, err := svc.SubmitDigitalOrder(context.Background(), &DigitalOrderRequest{
		TableNumber: 4,
		Items:       []OrderItemInput{{ProductID: productID.String(), Quantity: 1}},
	})
	if !errors.Is(err, storegate.ErrStoreClosed) {
		t.Fatalf("err = %v, want ErrStoreClosed", err)
	}
	if tx.committed {
		t.Error("transaction committed despite closed store")
	}
}

// --- ApprovePending / RejectPending ---

func queuedSession(tableNumber int32, productID uuid.UUID) database.TableSession {
	raw, _ := json.Marshal([]pendingItem{{
		ProductID:   productID.String(),
		Name:        "Grilled Chicken Plate",
		Quantity:    2,
		Price:       "18.50",
		OrderedBy:   "Pedro",
		SubmittedAt: "2026-08-29T12:00:00Z",
	}})
	return database.TableSession{
		ID:                 uuid.New(),
		TableNumber:        tableNumber,
		Status:             enum.TableStatusPendingDigital,
		HasPendingDigital:  true,
		PendingReviewItems: raw,
		Pin:                "1234",
		SessionToken:       "tok-abc",
		ClientID:           enum.ClientAnonymous,
	}
}

func TestApprovePendingMovesQueueToTab(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)

	store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) {
		return queuedSession(n, productID), nil
	}
	store.getOrderForUpdateFn = func(ctx context.Context, id string) (database.Order, error) {
		return database.Order{ID: id, Type: enum.OrderTypeTable, Status: enum.OrderStatusPreparing, ClientID: enum.ClientAnonymous}, nil
	}
	var createdItems []database.CreateOrderItemParams
	store.createItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		createdItems = append(createdItems, arg)
		return database.OrderItem{OrderID: arg.OrderID, ProductID: arg.ProductID, Quantity: arg.Quantity, Price: arg.Price}, nil
	}
	store.listItemsFn = func(ctx context.Context, orderID string) ([]database.OrderItem, error) {
		// one line the waiter already rang up plus the approved digital line
		return []database.OrderItem{
			{OrderID: orderID, ProductID: productID, Quantity: 1, Price: makeNumeric("18.50")},
			{OrderID: orderID, ProductID: productID, Quantity: 2, Price: makeNumeric("18.50")},
		}, nil
	}
	var newTotal *database.UpdateOrderTotalParams
	store.updateOrderTotalFn = func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
		newTotal = &arg
		return database.Order{ID: arg.ID, Total: arg.Total, Type: enum.OrderTypeTable, Status: enum.OrderStatusPreparing}, nil
	}
	var sessionUpdated *database.UpdateTableSessionParams
	store.updateSessionFn = func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
		sessionUpdated = &arg
		return database.TableSession{TableNumber: arg.TableNumber, Status: arg.Status}, nil
	}

	svc, _, pub := newTestTableService(store, allowGate{})
	_, err := svc.ApprovePending(context.Background(), 4)
	if err != nil {
		t.Fatalf("ApprovePending returned error: %v", err)
	}

	if len(createdItems) != 1 || createdItems[0].Quantity != 2 {
		t.Fatalf("appended items = %+v, want one line of qty 2", createdItems)
	}
	if !createdItems[0].TableSessionID.Valid {
		t.Error("approved item not linked to the session")
	}
	if newTotal == nil || !numericEquals(newTotal.Total, "55.50") {
		t.Errorf("total = %+v, want 55.50 recomputed from all lines", newTotal)
	}
	if sessionUpdated == nil || sessionUpdated.Status != enum.TableStatusOccupied || sessionUpdated.HasPendingDigital {
		t.Errorf("session after approve = %+v, want occupied with empty queue", sessionUpdated)
	}
	if got := pub.byType(events.TypeNewOrder); len(got) != 2 {
		t.Errorf("newOrder events = %d, want 2", len(got))
	}
}

func TestApprovePendingNothingQueued(t *testing.T) {
	store := tableBaseStore(uuid.New())
	store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) {
		return database.TableSession{TableNumber: n, Status: enum.TableStatusOccupied, PendingReviewItems: []byte("[]")}, nil
	}

	svc, _, _ := newTestTableService(store, allowGate{})
	_, err := svc.ApprovePending(context.Background(), 4)
	if !errors.Is(err, ErrNothingPending) {
		t.Fatalf("err = %v, want ErrNothingPending", err)
	}
}

func TestRejectPendingWithoutTabFreesTable(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)
	store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) {
		return queuedSession(n, productID), nil
	}
	store.getOrderFn = func(ctx context.Context, id string) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	var deletedTable int32
	store.deleteSessionFn = func(ctx context.Context, tableNumber int32) (int64, error) {
		deletedTable = tableNumber
		return 1, nil
	}

	svc, _, pub := newTestTableService(store, allowGate{})
	if err := svc.RejectPending(context.Background(), 4); err != nil {
		t.Fatalf("RejectPending returned error: %v", err)
	}

	if deletedTable != 4 {
		t.Errorf("deleted session for table %d, want 4", deletedTable)
	}
	if got := pub.byType(events.TypeDigitalOrderCancelled); len(got) != 1 {
		t.Errorf("digitalOrderCancelled events = %d, want 1", len(got))
	}
}

func TestRejectPendingWithTabKeepsSession(t *testing.T) {
	productID := uuid.New()
	store := tableBaseStore(productID)
	store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) {
		return queuedSession(n, productID), nil
	}
	var sessionUpdated *database.UpdateTableSessionParams
	store.updateSessionFn = func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
		sessionUpdated = &arg
		return database.TableSession{TableNumber: arg.TableNumber, Status: arg.Status}, nil
	}
	var sessionDeleted bool
	store.deleteSessionFn = func(ctx context.Context, tableNumber int32) (int64, error) {
		sessionDeleted = true
		return 1, nil
	}

	svc, _, _ := newTestTableService(store, allowGate{})
	if err := svc.RejectPending(context.Background(), 4); err != nil {
		t.Fatalf("RejectPending returned error: %v", err)
	}

	if sessionDeleted {
		t.Error("session deleted despite an open tab")
	}
	if sessionUpdated == nil || sessionUpdated.Status != enum.TableStatusOccupied {
		t.Fatalf("session = %+v, want occupied with cleared queue", sessionUpdated)
	}
	if sessionUpdated.HasPendingDigital || string(sessionUpdated.PendingReviewItems) != "[]" {
		t.Errorf("queue not cleared: %+v", sessionUpdated)
	}
}

// --- RequestBill ---

func TestRequestBillByToken(t *testing.T) {
	store := tableBaseStore(uuid.New())
	store.getSessionByTokenFn = func(ctx context.Context, token string) (database.TableSession, error) {
		if token != "tok-abc" {
			return database.TableSession{}, pgx.ErrNoRows
		}
		return database.TableSession{TableNumber: 7, SessionToken: token}, nil
	}
	store.getSessionForUpdateFn = func(ctx context.Context, n int32) (database.TableSession, error) {
		return database.TableSession{TableNumber: n, Status: enum.TableStatusOccupied, PendingReviewItems: []byte("[]")}, nil
	}
	var sessionUpdated *database.UpdateTableSessionParams
	store.updateSessionFn = func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
		sessionUpdated = &arg
		return database.TableSession{TableNumber: arg.TableNumber, Status: arg.Status}, nil
	}

	svc, _, pub := newTestTableService(store, allowGate{})
	if err := svc.RequestBill(context.Background(), 0, "tok-abc"); err != nil {
		t.Fatalf("RequestBill returned error: %v", err)
	}

	if sessionUpdated == nil || sessionUpdated.TableNumber != 7 {
		t.Fatalf("session update = %+v, want table 7", sessionUpdated)
	}
	if sessionUpdated.Status != enum.TableStatusBilling {
		t.Errorf("status = %s, want billing", sessionUpdated.Status)
	}
	if got := pub.byType(events.TypeTableStatusChanged); len(got) == 0 {
		t.Error("billing event not published")
	}
}

func TestRequestBillUnknownToken(t *testing.T) {
	store := tableBaseStore(uuid.New())
	svc, _, _ := newTestTableService(store, allowGate{})
	err := svc.RequestBill(context.Background(), 0, "ghost")
	if !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("err = %v, want ErrInvalidSessionToken", err)
	}
}
