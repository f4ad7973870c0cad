package models

import "time"

// --- Catalog ---

// ListedItemStatus is the seller-controlled lifecycle of a listing.
type ListedItemStatus string

const (
	ListedItemAvailable   ListedItemStatus = "available"
	ListedItemUnavailable ListedItemStatus = "unavailable"
)

// ListedItem is a sellable unit of product offered by one seller. Its
// quantity is mutated only through the inventory ledger's reserve/restore
// operations (seller edits happen outside this core).
type ListedItem struct {
	ID                string           `db:"id" json:"id"`
	SellerID          string           `db:"seller_id" json:"sellerId"`
	Name              string           `db:"name" json:"name"`
	Unit              string           `db:"unit" json:"unit"`
	UnitPrice         float64          `db:"unit_price" json:"unitPrice"`
	QuantityAvailable int              `db:"quantity_available" json:"quantityAvailable"`
	Status            ListedItemStatus `db:"status" json:"status"`
}

// --- Orders ---

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Order is the aggregate root. Exactly one seller per order; the line items
// and the reservation share its lifecycle.
type Order struct {
	ID              string        `db:"id" json:"id"`
	BuyerID         string        `db:"buyer_id" json:"buyerId"`
	SellerID        string        `db:"seller_id" json:"sellerId"`
	Total           float64       `db:"total" json:"total"`
	DeliveryAddress string        `db:"delivery_address" json:"deliveryAddress"`
	DeliveryDate    *time.Time    `db:"delivery_date" json:"deliveryDate,omitempty"`
	PaymentMethod   string        `db:"payment_method" json:"paymentMethod"`
	Notes           string        `db:"notes" json:"notes,omitempty"`
	Status          OrderStatus   `db:"status" json:"status"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"paymentStatus"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// CanTransitionTo reports whether the order may move to next:
// pending -> confirmed|cancelled, confirmed -> completed|cancelled.
// cancelled and completed are terminal.
func (o Order) CanTransitionTo(next OrderStatus) bool {
	switch o.Status {
	case OrderPending:
		return next == OrderConfirmed || next == OrderCancelled
	case OrderConfirmed:
		return next == OrderCompleted || next == OrderCancelled
	default:
		return false
	}
}

// OrderLineItem snapshots what was bought and at what price. Immutable once
// created; the total on the order equals the sum of the subtotals.
type OrderLineItem struct {
	OrderID      string  `db:"order_id" json:"orderId"`
	ListedItemID string  `db:"listed_item_id" json:"listedItemId"`
	Quantity     int     `db:"quantity" json:"quantity"`
	UnitPrice    float64 `db:"unit_price" json:"unitPriceAtOrderTime"`
	Subtotal     float64 `db:"subtotal" json:"subtotal"`
}

// OrderWithItems is the response shape echoed back to callers.
type OrderWithItems struct {
	Order
	Items []OrderLineItem `json:"items"`
}

// --- Reservations ---

// Reservation is the time-boxed hold that keeps an order's stock decrement
// from being silently abandoned. Released is monotonic: it flips to true
// exactly once, by cancellation or by the expiry sweep, whichever wins.
type Reservation struct {
	OrderID   string    `db:"order_id" json:"orderId"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	Released  bool      `db:"released" json:"released"`
}

// --- Identity ---

// Principal is the authenticated caller as reported by the identity
// collaborator. SellerID is set only for dual-registered users.
type Principal struct {
	BuyerID  string
	SellerID string
}
