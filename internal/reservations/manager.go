package reservations

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/metrics"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// Manager attaches TTL holds to new orders and sweeps the expired ones.
type Manager struct {
	store      database.Store
	reconciler *Reconciler
	ttl        time.Duration
	batchSize  int
	metrics    *metrics.CoreMetrics
}

func NewManager(store database.Store, reconciler *Reconciler, ttl time.Duration, batchSize int, m *metrics.CoreMetrics) *Manager {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Manager{store: store, reconciler: reconciler, ttl: ttl, batchSize: batchSize, metrics: m}
}

// TTL returns the configured hold duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open attaches the reservation for orderID inside the caller's transaction.
// Re-opening refreshes expiresAt and clears released; there is never more
// than one reservation per order. A failure here is a soft failure: the
// purchase must not be blocked because the expiry safety net could not be
// recorded.
func (m *Manager) Open(ctx context.Context, tx database.Tx, orderID string, now time.Time) {
	if err := tx.UpsertReservation(ctx, orderID, now.Add(m.ttl)); err != nil {
		log.Warn().Err(err).Str("orderId", orderID).Msg("Failed to record reservation; order will not be covered by the expiry sweep.")
	}
}

// SweepExpired finds reservations whose TTL has lapsed and reconciles them
// one transaction at a time: restore the stock, mark the reservation
// released and cancel the still-pending order together, so a crash mid-sweep
// leaves the reservation retryable rather than silently lost. It returns the
// orders it expired so the caller can emit notification events.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]models.Order, error) {
	var expired []models.Order

	for i := 0; i < m.batchSize; i++ {
		var (
			done    bool
			swept   models.Order
			wasSold bool
		)
		err := m.store.WithinTx(ctx, func(tx database.Tx) error {
			rows, err := tx.ExpiredReservations(ctx, now, 1)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				done = true
				return nil
			}
			res := rows[0]

			order, err := tx.GetOrder(ctx, res.OrderID)
			if err != nil {
				return err
			}

			// A reservation whose order already left pending was consumed
			// by the sale (or an earlier cancellation): just mark it
			// released, never re-credit stock.
			if order.Status != models.OrderPending {
				wasSold = true
				_, err := tx.ReleaseReservation(ctx, res.OrderID)
				return err
			}

			if err := m.reconciler.Reconcile(ctx, tx, res.OrderID); err != nil {
				return err
			}
			if err := tx.UpdateOrderStatus(ctx, res.OrderID, models.OrderCancelled); err != nil {
				return err
			}
			order.Status = models.OrderCancelled
			swept = order
			return nil
		})
		if err != nil {
			// Leave this reservation for the next pass; the released flag
			// rolled back with the transaction.
			log.Error().Err(err).Msg("Sweep pass failed; reservation left retryable")
			return expired, err
		}
		if done {
			break
		}
		if wasSold {
			continue
		}
		m.metrics.IncReleased("expiry")
		m.metrics.IncCancelled("expiry")
		expired = append(expired, swept)
	}

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Expired reservations swept")
	}
	return expired, nil
}
