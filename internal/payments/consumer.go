// Package payments receives the external payment collaborator's verdicts
// and advances the order's payment status accordingly.
package payments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/eventbus"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
)

type Consumer struct {
	orders *orders.Service
}

func NewConsumer(svc *orders.Service) *Consumer {
	return &Consumer{orders: svc}
}

// MessageHandler processes one payment.result delivery. Malformed payloads
// are a permanent failure; transient storage errors are returned so the
// message is redelivered.
func (c *Consumer) MessageHandler(ctx context.Context, delivery amqp.Delivery) error {
	var event models.PaymentResultEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal PaymentResultEvent, this is a permanent failure.")
		return eventbus.ErrPermanentFailure
	}
	if event.OrderID == "" {
		log.Error().Str("eventId", event.EventID).Msg("PaymentResultEvent without orderId, this is a permanent failure.")
		return eventbus.ErrPermanentFailure
	}

	if err := c.orders.SetPaymentStatus(ctx, event.OrderID, event.Status); err != nil {
		if errors.Is(err, apperr.ErrOrderNotFound) || apperr.IsClientFault(err) {
			log.Error().Err(err).Str("orderId", event.OrderID).Msg("Payment result rejected, dropping message.")
			return eventbus.ErrPermanentFailure
		}
		return err
	}

	// A completed payment confirms the order. The guard in the state
	// machine rejects this for orders the sweep already cancelled; that is
	// the expected outcome for payments arriving after the TTL, not a
	// reason to redeliver.
	if event.Status == models.PaymentCompleted {
		if err := c.orders.Confirm(ctx, event.OrderID); err != nil {
			var se *apperr.StateError
			if errors.As(err, &se) {
				log.Warn().Str("orderId", event.OrderID).Str("status", se.Current).Msg("Payment completed for an order that can no longer be confirmed.")
				return nil
			}
			return err
		}
	}

	log.Info().Str("orderId", event.OrderID).Str("status", string(event.Status)).Msg("Payment status applied")
	return nil
}
