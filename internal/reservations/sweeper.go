package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// ExpiredPublisher receives the orders an expiry sweep cancelled. The
// notification collaborator listens on the other end; failures are logged
// and dropped.
type ExpiredPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// Sweeper runs SweepExpired on a fixed interval until its context is
// cancelled. Multiple instances may run concurrently; the locking read in
// the store keeps them off each other's reservations.
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	publisher ExpiredPublisher
}

func NewSweeper(manager *Manager, interval time.Duration, publisher ExpiredPublisher) *Sweeper {
	return &Sweeper{manager: manager, interval: interval, publisher: publisher}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reservation sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.manager.SweepExpired(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Reservation sweep pass ended with error")
	}
	if s.publisher == nil {
		return
	}
	for _, order := range expired {
		event := models.OrderEvent{
			EventID:   uuid.New().String(),
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			SellerID:  order.SellerID,
			Status:    order.Status,
			Total:     order.Total,
			Timestamp: time.Now(),
		}
		if err := s.publisher.Publish(ctx, models.RoutingKeyOrderExpired, event); err != nil {
			log.Warn().Err(err).Str("orderId", order.ID).Msg("Failed to publish order.expired event")
		}
	}
}
