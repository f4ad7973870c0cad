// Package reservations owns the time-boxed holds placed on newly created
// orders and the compensating restock that runs when a hold is cancelled or
// expires.
package reservations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
)

// Reconciler is the idempotent compensating-action runner. Cancellation and
// the expiry sweep both route through here; the reservation's released flag,
// flipped with a conditional update, is the single serialization point that
// keeps the two paths from double-crediting stock.
type Reconciler struct {
	ledger *inventory.Ledger
}

func NewReconciler(ledger *inventory.Ledger) *Reconciler {
	return &Reconciler{ledger: ledger}
}

// Reconcile restores every line item of the order and consumes its
// reservation, all inside the caller's transaction. If the reservation was
// already released it returns apperr.ErrAlreadyReleased and mutates nothing.
// If any restore fails the transaction rolls back, which also rolls back the
// flag flip, so the reservation stays retryable for a later sweep.
func (r *Reconciler) Reconcile(ctx context.Context, tx database.Tx, orderID string) error {
	won, err := tx.ReleaseReservation(ctx, orderID)
	if err != nil {
		return err
	}
	if !won {
		return apperr.ErrAlreadyReleased
	}

	items, err := tx.GetOrderLineItems(ctx, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := r.ledger.Restore(ctx, tx, item.ListedItemID, item.Quantity); err != nil {
			return fmt.Errorf("failed to restore stock for item %s: %w", item.ListedItemID, err)
		}
	}

	log.Info().Str("orderId", orderID).Int("lineItems", len(items)).Msg("Reservation reconciled, stock restored")
	return nil
}
