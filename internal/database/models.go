package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Order struct {
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
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ID             uuid.UUID
	OrderID        string
	ProductID      uuid.UUID
	Quantity       int32
	Price          pgtype.Numeric
	IsReady        bool
	ReadyAt        pgtype.Timestamptz
	Observations   pgtype.Text
	TableSessionID pgtype.UUID
}

type TableSession struct {
	ID                 uuid.UUID
	TableNumber        int32
	Status             string
	HasPendingDigital  bool
	PendingReviewItems []byte
	Pin                string
	SessionToken       string
	ClientID           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Product struct {
	ID     uuid.UUID
	Name   string
	Price  pgtype.Numeric
	Active bool
}

type ProductRecipe struct {
	ProductID       uuid.UUID
	InventoryItemID uuid.UUID
	Quantity        pgtype.Numeric
	WasteFactor     pgtype.Numeric
}

type InventoryItem struct {
	ID       uuid.UUID
	Name     string
	Unit     string
	Quantity pgtype.Numeric
}

type InventoryMovement struct {
	ID              uuid.UUID
	InventoryItemID uuid.UUID
	Type            string
	Quantity        pgtype.Numeric
	Reason          string
	OrderID         pgtype.Text
	CreatedAt       time.Time
}

type Client struct {
	ID            string
	Name          string
	Phone         pgtype.Text
	TotalOrders   int32
	LastOrderDate pgtype.Timestamptz
	CreatedAt     time.Time
}

type Driver struct {
	ID     uuid.UUID
	Name   string
	Status string
}

type OrderRejection struct {
	ID        uuid.UUID
	OrderID   string
	DriverID  string
	Mode      string
	CreatedAt time.Time
}

type Receivable struct {
	ID        string
	OrderID   string
	ClientID  string
	Amount    pgtype.Numeric
	DueDate   time.Time
	Status    string
	CreatedAt time.Time
}

type AuditEntry struct {
	ID        uuid.UUID
	ActorID   string
	ActorName string
	Action    string
	Details   string
	CreatedAt time.Time
}

type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
