package models

import "time"

// --- Incoming HTTP request shapes ---

// OrderItemRequest is one line of a create-order request. UnitPrice is what
// the client believes the price to be; the server snapshots its own price
// from the catalog at validation time and uses that for the total.
type OrderItemRequest struct {
	ListedItemID string  `json:"listedItemId"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
}

// CreateOrderRequest is the purchase request accepted by the core.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items"`
	DeliveryAddress string             `json:"deliveryAddress"`
	DeliveryDate    *time.Time         `json:"deliveryDate,omitempty"`
	PaymentMethod   string             `json:"paymentMethod"`
	Notes           string             `json:"notes,omitempty"`
}

// PaymentStatusRequest is the payment collaborator's HTTP write path.
type PaymentStatusRequest struct {
	Status PaymentStatus `json:"status"`
}
