package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusPaid      = "PAID"
	PaymentStatusCancelled = "CANCELLED"
)

const (
	OrderTypeDineIn     = "DINE_IN"
	OrderTypeTakeaway   = "TAKEAWAY"
	OrderTypeDelivery   = "DELIVERY"
	OrderTypeSelfPickup = "SELF_PICKUP"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleKitchen = "KITCHEN"
)

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodQRIS     = "QRIS"
	PaymentMethodTransfer = "TRANSFER"
)

// ── Change feed ──

const (
	FeedTableOrders     = "orders"
	FeedTableOrderItems = "order_items"
)

const (
	FeedOpInsert = "INSERT"
	FeedOpUpdate = "UPDATE"
)
