package database

import (
	"context"
	"time"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// Tx is the unit-of-work surface available inside a store transaction.
// Every mutation of listed-item quantities, orders and reservations goes
// through here; no other component writes those rows.
type Tx interface {
	GetListedItem(ctx context.Context, id string) (models.ListedItem, error)

	// ReserveStock is an atomic check-and-decrement: it succeeds only when
	// the item is available and has at least qty on hand, and decrements in
	// the same statement. Failures are apperr.ErrItemNotFound,
	// apperr.ErrItemUnavailable or apperr.ErrInsufficientStock.
	ReserveStock(ctx context.Context, itemID string, qty int) error

	// RestoreStock unconditionally adds qty back to the item. Callers
	// enforce at-most-once per reserved unit via the reservation's released
	// flag.
	RestoreStock(ctx context.Context, itemID string, qty int) error

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertLineItems(ctx context.Context, items []models.OrderLineItem) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error

	// UpsertReservation creates the one reservation for orderID, or refreshes
	// expiresAt and clears released if it already exists.
	UpsertReservation(ctx context.Context, orderID string, expiresAt time.Time) error

	// ReleaseReservation atomically flips released from false to true.
	// It returns true when this call won the flip, false when the
	// reservation was already released, and apperr.ErrReservationNotFound
	// when no record exists.
	ReleaseReservation(ctx context.Context, orderID string) (bool, error)

	GetReservation(ctx context.Context, orderID string) (models.Reservation, error)

	// ExpiredReservations returns up to limit unreleased reservations whose
	// expiresAt is before now, locked for this transaction so concurrent
	// sweep workers never pick the same rows.
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
}

// Store is the persistence boundary of the order core.
type Store interface {
	// WithinTx runs fn inside a single transaction. Any error aborts the
	// whole unit of work with no partial effects.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Read-only lookups outside a transaction boundary.
	GetListedItem(ctx context.Context, id string) (models.ListedItem, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error)

	Close()
}
