package models

import "time"

// Routing keys on the outgoing orders exchange.
const (
	RoutingKeyOrderCreated   = "order.created"
	RoutingKeyOrderCancelled = "order.cancelled"
	RoutingKeyOrderExpired   = "order.expired"
)

// OrderEventItem is a line-item summary carried on order lifecycle events.
type OrderEventItem struct {
	ListedItemID string  `json:"listedItemId"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unitPriceAtOrderTime"`
	Subtotal     float64 `json:"subtotal"`
}

// OrderEvent is published for the notification collaborator after an order
// is created, cancelled or expired. Nothing in the core depends on the
// publish succeeding.
type OrderEvent struct {
	EventID   string           `json:"eventId"`
	OrderID   string           `json:"orderId"`
	BuyerID   string           `json:"buyerId"`
	SellerID  string           `json:"sellerId"`
	Status    OrderStatus      `json:"status"`
	Total     float64          `json:"total"`
	Items     []OrderEventItem `json:"items,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// PaymentResultEvent is consumed from the payment collaborator. Status is
// one of the PaymentStatus values; it never moves the order status directly.
type PaymentResultEvent struct {
	EventID   string        `json:"eventId"`
	OrderID   string        `json:"orderId"`
	Status    PaymentStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}
