package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, price, active`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Active)
	return p, err
}

const getProduct = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProduct, id))
}

const listProducts = `SELECT ` + productColumns + ` FROM products WHERE active ORDER BY name`

func (q *Queries) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := q.db.Query(ctx, listProducts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type CreateProductParams struct {
	Name  string
	Price pgtype.Numeric
}

const createProduct = `
INSERT INTO products (name, price) VALUES ($1, $2)
RETURNING ` + productColumns

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, createProduct, arg.Name, arg.Price))
}

// GetProductRecipeRow joins a recipe component with its inventory item so the
// ledger can build a human-readable movement reason.
type GetProductRecipeRow struct {
	InventoryItemID uuid.UUID
	ItemName        string
	Quantity        pgtype.Numeric
	WasteFactor     pgtype.Numeric
}

const getProductRecipe = `
SELECT r.inventory_item_id, i.name, r.quantity, r.waste_factor
FROM product_recipes r
JOIN inventory_items i ON i.id = r.inventory_item_id
WHERE r.product_id = $1`

func (q *Queries) GetProductRecipe(ctx context.Context, productID uuid.UUID) ([]GetProductRecipeRow, error) {
	rows, err := q.db.Query(ctx, getProductRecipe, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recipe []GetProductRecipeRow
	for rows.Next() {
		var r GetProductRecipeRow
		if err := rows.Scan(&r.InventoryItemID, &r.ItemName, &r.Quantity, &r.WasteFactor); err != nil {
			return nil, err
		}
		recipe = append(recipe, r)
	}
	return recipe, rows.Err()
}

type CreateProductRecipeParams struct {
	ProductID       uuid.UUID
	InventoryItemID uuid.UUID
	Quantity        pgtype.Numeric
	WasteFactor     pgtype.Numeric
}

const createProductRecipe = `
INSERT INTO product_recipes (product_id, inventory_item_id, quantity, waste_factor)
VALUES ($1, $2, $3, $4)`

func (q *Queries) CreateProductRecipe(ctx context.Context, arg CreateProductRecipeParams) error {
	_, err := q.db.Exec(ctx, createProductRecipe,
		arg.ProductID, arg.InventoryItemID, arg.Quantity, arg.WasteFactor)
	return err
}
