package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/events"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	committed   bool
	commitErr   error
	rollbackErr error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr == nil {
		m.committed = true
	}
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  *mockTx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	channel string
	event   events.Event
}

func (p *capturingPublisher) Publish(channel string, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel, event})
}

func (p *capturingPublisher) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// mockStore implements TableStore (and so OrderStore) with configurable
// behavior. Tests override the functions they care about.
type mockStore struct {
	getProductFn       func(ctx context.Context, id uuid.UUID) (database.Product, error)
	getProductRecipeFn func(ctx context.Context, productID uuid.UUID) ([]database.GetProductRecipeRow, error)
	adjustInventoryFn  func(ctx context.Context, arg database.AdjustInventoryQuantityParams) (database.InventoryItem, error)
	createMovementFn   func(ctx context.Context, arg database.CreateInventoryMovementParams) (database.InventoryMovement, error)

	ensureClientFn func(ctx context.Context, arg database.EnsureClientParams) error
	incClientFn    func(ctx context.Context, id string) error
	decClientFn    func(ctx context.Context, id string) error

	getOrderFn          func(ctx context.Context, id string) (database.Order, error)
	getOrderForUpdateFn func(ctx context.Context, id string) (database.Order, error)
	createOrderFn       func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	updateOrderFn       func(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error)
	updateOrderTotalFn  func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error)
	archiveOrderFn      func(ctx context.Context, arg database.ArchiveOrderParams) error
	deleteOrderFn       func(ctx context.Context, id string) error

	listItemsFn     func(ctx context.Context, orderID string) ([]database.OrderItem, error)
	deleteItemsFn   func(ctx context.Context, orderID string) error
	createItemFn    func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	clearItemRefsFn func(ctx context.Context, orderID string) error

	getSessionFn          func(ctx context.Context, tableNumber int32) (database.TableSession, error)
	getSessionForUpdateFn func(ctx context.Context, tableNumber int32) (database.TableSession, error)
	getSessionByTokenFn   func(ctx context.Context, token string) (database.TableSession, error)
	listSessionsFn        func(ctx context.Context) ([]database.TableSession, error)
	createSessionFn       func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error)
	updateSessionFn       func(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error)
	deleteSessionFn       func(ctx context.Context, tableNumber int32) (int64, error)

	upsertReceivableFn       func(ctx context.Context, arg database.UpsertReceivableParams) (database.Receivable, error)
	updateReceivableAmountFn func(ctx context.Context, arg database.UpdateReceivableAmountParams) error
	deleteReceivableFn       func(ctx context.Context, orderID string) error

	createRejectionFn    func(ctx context.Context, arg database.CreateOrderRejectionParams) (database.OrderRejection, error)
	updateDriverStatusFn func(ctx context.Context, arg database.UpdateDriverStatusParams) (database.Driver, error)
	createAuditFn        func(ctx context.Context, arg database.CreateAuditEntryParams) (database.AuditEntry, error)
}

func (m *mockStore) GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error) {
	return m.getProductFn(ctx, id)
}
func (m *mockStore) GetProductRecipe(ctx context.Context, productID uuid.UUID) ([]database.GetProductRecipeRow, error) {
	return m.getProductRecipeFn(ctx, productID)
}
func (m *mockStore) AdjustInventoryQuantity(ctx context.Context, arg database.AdjustInventoryQuantityParams) (database.InventoryItem, error) {
	return m.adjustInventoryFn(ctx, arg)
}
func (m *mockStore) CreateInventoryMovement(ctx context.Context, arg database.CreateInventoryMovementParams) (database.InventoryMovement, error) {
	return m.createMovementFn(ctx, arg)
}
func (m *mockStore) EnsureClient(ctx context.Context, arg database.EnsureClientParams) error {
	return m.ensureClientFn(ctx, arg)
}
func (m *mockStore) IncrementClientOrders(ctx context.Context, id string) error {
	return m.incClientFn(ctx, id)
}
func (m *mockStore) DecrementClientOrders(ctx context.Context, id string) error {
	return m.decClientFn(ctx, id)
}
func (m *mockStore) GetOrder(ctx context.Context, id string) (database.Order, error) {
	return m.getOrderFn(ctx, id)
}
func (m *mockStore) GetOrderForUpdate(ctx context.Context, id string) (database.Order, error) {
	return m.getOrderForUpdateFn(ctx, id)
}
func (m *mockStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockStore) UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error) {
	return m.updateOrderFn(ctx, arg)
}
func (m *mockStore) UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
	return m.updateOrderTotalFn(ctx, arg)
}
func (m *mockStore) ArchiveOrder(ctx context.Context, arg database.ArchiveOrderParams) error {
	return m.archiveOrderFn(ctx, arg)
}
func (m *mockStore) DeleteOrder(ctx context.Context, id string) error {
	return m.deleteOrderFn(ctx, id)
}
func (m *mockStore) ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error) {
	return m.listItemsFn(ctx, orderID)
}
func (m *mockStore) DeleteOrderItemsByOrder(ctx context.Context, orderID string) error {
	return m.deleteItemsFn(ctx, orderID)
}
func (m *mockStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createItemFn(ctx, arg)
}
func (m *mockStore) ClearItemSessionRefs(ctx context.Context, orderID string) error {
	return m.clearItemRefsFn(ctx, orderID)
}
func (m *mockStore) GetTableSession(ctx context.Context, tableNumber int32) (database.TableSession, error) {
	return m.getSessionFn(ctx, tableNumber)
}
func (m *mockStore) GetTableSessionForUpdate(ctx context.Context, tableNumber int32) (database.TableSession, error) {
	return m.getSessionForUpdateFn(ctx, tableNumber)
}
func (m *mockStore) GetTableSessionByToken(ctx context.Context, token string) (database.TableSession, error) {
	return m.getSessionByTokenFn(ctx, token)
}
func (m *mockStore) ListTableSessions(ctx context.Context) ([]database.TableSession, error) {
	return m.listSessionsFn(ctx)
}
func (m *mockStore) CreateTableSession(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
	return m.createSessionFn(ctx, arg)
}
func (m *mockStore) UpdateTableSession(ctx context.Context, arg database.UpdateTableSessionParams) (database.TableSession, error) {
	return m.updateSessionFn(ctx, arg)
}
func (m *mockStore) DeleteTableSession(ctx context.Context, tableNumber int32) (int64, error) {
	return m.deleteSessionFn(ctx, tableNumber)
}
func (m *mockStore) UpsertReceivable(ctx context.Context, arg database.UpsertReceivableParams) (database.Receivable, error) {
	return m.upsertReceivableFn(ctx, arg)
}
func (m *mockStore) UpdateReceivableAmount(ctx context.Context, arg database.UpdateReceivableAmountParams) error {
	return m.updateReceivableAmountFn(ctx, arg)
}
func (m *mockStore) DeleteReceivableByOrder(ctx context.Context, orderID string) error {
	return m.deleteReceivableFn(ctx, orderID)
}
func (m *mockStore) CreateOrderRejection(ctx context.Context, arg database.CreateOrderRejectionParams) (database.OrderRejection, error) {
	return m.createRejectionFn(ctx, arg)
}
func (m *mockStore) UpdateDriverStatus(ctx context.Context, arg database.UpdateDriverStatusParams) (database.Driver, error) {
	return m.updateDriverStatusFn(ctx, arg)
}
func (m *mockStore) CreateAuditEntry(ctx context.Context, arg database.CreateAuditEntryParams) (database.AuditEntry, error) {
	return m.createAuditFn(ctx, arg)
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}
