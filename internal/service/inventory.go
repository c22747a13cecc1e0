package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Direction of a stock reconciliation pass.
type Direction string

const (
	// DirectionDecrement consumes stock (order finalized).
	DirectionDecrement Direction = "DECREMENT"
	// DirectionIncrement returns stock (finalization reversed).
	DirectionIncrement Direction = "INCREMENT"
)

// LedgerItem is one order line as seen by the inventory ledger.
type LedgerItem struct {
	ProductID uuid.UUID
	Quantity  int32
}

// LedgerStore defines the DB methods the ledger needs.
// Satisfied by *database.Queries (and its WithTx variant).
type LedgerStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	GetProductRecipe(ctx context.Context, productID uuid.UUID) ([]database.GetProductRecipeRow, error)
	AdjustInventoryQuantity(ctx context.Context, arg database.AdjustInventoryQuantityParams) (database.InventoryItem, error)
	CreateInventoryMovement(ctx context.Context, arg database.CreateInventoryMovementParams) (database.InventoryMovement, error)
}

// StockStore defines the DB methods for staff-initiated stock corrections.
// Satisfied by *database.Queries.
type StockStore interface {
	GetInventoryItem(ctx context.Context, id uuid.UUID) (database.InventoryItem, error)
	AdjustInventoryQuantity(ctx context.Context, arg database.AdjustInventoryQuantityParams) (database.InventoryItem, error)
	CreateInventoryMovement(ctx context.Context, arg database.CreateInventoryMovementParams) (database.InventoryMovement, error)
}

// NewStockStore creates a StockStore from a DBTX (pool or tx).
type NewStockStore func(db database.DBTX) StockStore

var ErrInventoryItemNotFound = errors.New("inventory item not found")

// StockService applies manual stock corrections: the adjustment and its
// movement record commit together.
type StockService struct {
	pool     TxBeginner
	newStore NewStockStore
}

func NewStockService(pool TxBeginner, newStore NewStockStore) *StockService {
	return &StockService{pool: pool, newStore: newStore}
}

// Adjust moves stock by a signed delta and writes the matching movement.
func (s *StockService) Adjust(ctx context.Context, itemID uuid.UUID, delta decimal.Decimal, reason string) (database.InventoryItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.InventoryItem{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if _, err := store.GetInventoryItem(ctx, itemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.InventoryItem{}, ErrInventoryItemNotFound
		}
		return database.InventoryItem{}, fmt.Errorf("get item: %w", err)
	}

	item, err := store.AdjustInventoryQuantity(ctx, database.AdjustInventoryQuantityParams{
		ID:    itemID,
		Delta: stockToNumeric(delta),
	})
	if err != nil {
		return database.InventoryItem{}, fmt.Errorf("adjust: %w", err)
	}

	movementType := enum.MovementInput
	if delta.IsNegative() {
		movementType = enum.MovementOutput
	}
	if _, err := store.CreateInventoryMovement(ctx, database.CreateInventoryMovementParams{
		InventoryItemID: itemID,
		Type:            movementType,
		Quantity:        stockToNumeric(delta.Abs()),
		Reason:          reason,
	}); err != nil {
		return database.InventoryItem{}, fmt.Errorf("record movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.InventoryItem{}, fmt.Errorf("commit tx: %w", err)
	}
	return item, nil
}

// Ledger applies recipe-driven stock deltas and records immutable movements.
//
// It has no idempotency protection: callers must invoke it exactly once per
// real status transition, inside the same transaction as the order write.
type Ledger struct {
	log *logrus.Logger
}

func NewLedger(log *logrus.Logger) *Ledger {
	return &Ledger{log: log}
}

// Apply walks every item's recipe and moves stock by
// recipeQty * itemQty * wasteFactor per component. A component whose operands
// don't parse contributes zero and never aborts the batch; database failures
// do abort, rolling the enclosing transaction back.
func (l *Ledger) Apply(ctx context.Context, store LedgerStore, items []LedgerItem, direction Direction, orderID string) error {
	for _, item := range items {
		product, err := store.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Product removed after the order was taken; nothing to move.
				l.log.WithField("product_id", item.ProductID).Warn("ledger: product gone, skipping")
				continue
			}
			return fmt.Errorf("ledger: get product: %w", err)
		}

		recipe, err := store.GetProductRecipe(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("ledger: get recipe: %w", err)
		}

		for _, component := range recipe {
			recipeQty := numericToDecimal(component.Quantity)
			waste := numericToDecimal(component.WasteFactor)
			delta := recipeQty.Mul(decimal.NewFromInt32(item.Quantity)).Mul(waste)
			if delta.IsZero() {
				continue
			}

			signed := delta
			movementType := enum.MovementInput
			if direction == DirectionDecrement {
				signed = delta.Neg()
				movementType = enum.MovementOutput
			}

			if _, err := store.AdjustInventoryQuantity(ctx, database.AdjustInventoryQuantityParams{
				ID:    component.InventoryItemID,
				Delta: stockToNumeric(signed),
			}); err != nil {
				return fmt.Errorf("ledger: adjust %s: %w", component.ItemName, err)
			}

			reason := fmt.Sprintf("%s x%d (%s)", product.Name, item.Quantity, component.ItemName)
			if _, err := store.CreateInventoryMovement(ctx, database.CreateInventoryMovementParams{
				InventoryItemID: component.InventoryItemID,
				Type:            movementType,
				Quantity:        stockToNumeric(delta),
				Reason:          reason,
				OrderID:         textOrNull(orderID),
			}); err != nil {
				return fmt.Errorf("ledger: record movement: %w", err)
			}
		}
	}
	return nil
}
