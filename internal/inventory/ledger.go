// Package inventory owns the authoritative count of sellable units per
// listed item. All decrements and compensating increments go through the
// Ledger inside a store transaction.
package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
)

type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve atomically checks and decrements on-hand stock for one item. On
// failure nothing is mutated; the error is one of the apperr stock errors.
func (l *Ledger) Reserve(ctx context.Context, tx database.Tx, itemID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}
	if err := tx.ReserveStock(ctx, itemID, qty); err != nil {
		return err
	}
	log.Debug().Str("itemId", itemID).Int("quantity", qty).Msg("Stock reserved")
	return nil
}

// Restore unconditionally credits qty back to the item. At-most-once per
// reserved unit is enforced by the caller via the reservation's released
// flag, not here.
func (l *Ledger) Restore(ctx context.Context, tx database.Tx, itemID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("restore quantity must be positive, got %d", qty)
	}
	if err := tx.RestoreStock(ctx, itemID, qty); err != nil {
		return err
	}
	log.Debug().Str("itemId", itemID).Int("quantity", qty).Msg("Stock restored")
	return nil
}
