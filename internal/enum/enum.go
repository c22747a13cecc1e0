package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPreparing      = "PREPARING"
	OrderStatusPartiallyReady = "PARTIALLY_READY"
	OrderStatusReady          = "READY"
	OrderStatusOutForDelivery = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusReopened       = "REOPENED"
)

const (
	TableStatusAvailable      = "available"
	TableStatusPendingDigital = "pending_digital"
	TableStatusOccupied       = "occupied"
	TableStatusBilling        = "billing"
)

const (
	MovementInput  = "INPUT"
	MovementOutput = "OUTPUT"
)

const (
	DriverAvailable = "AVAILABLE"
	DriverBusy      = "BUSY"
	DriverOffline   = "OFFLINE"
)

const (
	RejectionManual = "MANUAL"
	RejectionAuto   = "AUTO"
)

const (
	ReceivableOpen    = "OPEN"
	ReceivableSettled = "SETTLED"
)

// ── Group B: Borderline (CHECK constrained in DB) ──

const (
	OrderTypeCounter     = "COUNTER"
	OrderTypeTable       = "TABLE"
	OrderTypeOwnDelivery = "OWN_DELIVERY"
	OrderTypeAppDelivery = "APP_DELIVERY"
)

const (
	UserRoleAdmin   = "ADMIN"
	UserRolePOS     = "POS"
	UserRoleKitchen = "KITCHEN"
	UserRoleWaiter  = "WAITER"
)

// ── Group C: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCash  = "CASH"
	PaymentMethodCard  = "CARD"
	PaymentMethodPix   = "PIX"
	PaymentMethodFiado = "FIADO"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
)

// ClientAnonymous is the sentinel client id for walk-in orders.
const ClientAnonymous = "ANONYMOUS"

// IsDeliveryType reports whether the order type is driver-delivered.
func IsDeliveryType(t string) bool {
	return t == OrderTypeOwnDelivery || t == OrderTypeAppDelivery
}
