// Package orders is the transactional heart of the marketplace: intake
// validation, atomic order creation with stock reservation, and the order
// lifecycle state machine.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/metrics"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/reservations"
)

// EventPublisher pushes order lifecycle events towards the notification
// collaborator. Publishing is best-effort: no order operation depends on it.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

type Service struct {
	store      database.Store
	ledger     *inventory.Ledger
	manager    *reservations.Manager
	reconciler *reservations.Reconciler
	publisher  EventPublisher
	metrics    *metrics.CoreMetrics
}

func NewService(store database.Store, ledger *inventory.Ledger, manager *reservations.Manager, reconciler *reservations.Reconciler, publisher EventPublisher, m *metrics.CoreMetrics) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		manager:    manager,
		reconciler: reconciler,
		publisher:  publisher,
		metrics:    m,
	}
}

// Create validates the purchase request, then in one transaction reserves
// stock for every item, persists the order with its line items, and opens
// the TTL reservation. If anything fails, nothing from this request
// survives: no order, no line items, no decrement.
func (s *Service) Create(ctx context.Context, principal models.Principal, req models.CreateOrderRequest) (*models.OrderWithItems, error) {
	started := time.Now()

	validated, err := s.validate(ctx, principal, req)
	if err != nil {
		s.metrics.IncRejected(rejectionReason(err))
		return nil, err
	}

	now := time.Now()
	order := models.Order{
		ID:              uuid.New().String(),
		BuyerID:         principal.BuyerID,
		SellerID:        validated.SellerID,
		Total:           validated.Total,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryDate:    req.DeliveryDate,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		Status:          models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	lineItems := make([]models.OrderLineItem, len(validated.Items))
	copy(lineItems, validated.Items)
	for i := range lineItems {
		lineItems[i].OrderID = order.ID
	}

	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		for _, item := range lineItems {
			if err := s.ledger.Reserve(ctx, tx, item.ListedItemID, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		if err := tx.InsertLineItems(ctx, lineItems); err != nil {
			return err
		}
		s.manager.Open(ctx, tx, order.ID, now)
		return nil
	})
	if err != nil {
		s.metrics.IncRejected(rejectionReason(err))
		return nil, err
	}

	s.metrics.IncCreated()
	s.metrics.ObserveCreateMS(float64(time.Since(started).Milliseconds()))
	log.Info().Str("orderId", order.ID).Str("buyerId", order.BuyerID).Float64("total", order.Total).Msg("Order created")

	s.publishEvent(ctx, models.RoutingKeyOrderCreated, order, lineItems)
	return &models.OrderWithItems{Order: order, Items: lineItems}, nil
}

// Cancel is the buyer-initiated path. Only the owning buyer may cancel, and
// only while the order is still pending. Restock and the status change
// commit together.
func (s *Service) Cancel(ctx context.Context, principal models.Principal, orderID string) error {
	var (
		cancelled models.Order
		released  bool
	)

	err := s.store.WithinTx(ctx, func(tx database.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != principal.BuyerID {
			return apperr.ErrForbidden
		}
		if order.Status != models.OrderPending {
			return &apperr.StateError{Current: string(order.Status), Action: "cancel"}
		}

		if err := s.reconciler.Reconcile(ctx, tx, orderID); err != nil {
			switch {
			case errors.Is(err, apperr.ErrAlreadyReleased):
				// The reservation was already consumed, so stock was already
				// restored exactly once; only the status change remains.
			case errors.Is(err, apperr.ErrReservationNotFound):
				// The reservation record was never written (soft failure at
				// creation time). Cancellation is the only releaser left, so
				// restore the line items directly.
				items, err := tx.GetOrderLineItems(ctx, orderID)
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := s.ledger.Restore(ctx, tx, item.ListedItemID, item.Quantity); err != nil {
						return err
					}
				}
				log.Warn().Str("orderId", orderID).Msg("Cancelled order had no reservation record; restored stock directly")
			default:
				return err
			}
		} else {
			released = true
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, models.OrderCancelled); err != nil {
			return err
		}
		order.Status = models.OrderCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncCancelled("buyer")
	if released {
		s.metrics.IncReleased("cancel")
	}
	log.Info().Str("orderId", orderID).Msg("Order cancelled by buyer")

	s.publishEvent(ctx, models.RoutingKeyOrderCancelled, cancelled, nil)
	return nil
}

// SetPaymentStatus is the external payment collaborator's write path. It
// advances paymentStatus only; order status moves through Confirm/Cancel.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) error {
	switch status {
	case models.PaymentPending, models.PaymentCompleted, models.PaymentFailed:
	default:
		return &apperr.ValidationError{Field: "status", Reason: "unknown payment status"}
	}
	return s.store.WithinTx(ctx, func(tx database.Tx) error {
		return tx.UpdatePaymentStatus(ctx, orderID, status)
	})
}

// Confirm moves a pending order to confirmed.
func (s *Service) Confirm(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, models.OrderConfirmed, "confirm")
}

// Complete moves a confirmed order to completed.
func (s *Service) Complete(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, models.OrderCompleted, "complete")
}

func (s *Service) transition(ctx context.Context, orderID string, next models.OrderStatus, action string) error {
	return s.store.WithinTx(ctx, func(tx database.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.CanTransitionTo(next) {
			return &apperr.StateError{Current: string(order.Status), Action: action}
		}
		return tx.UpdateOrderStatus(ctx, orderID, next)
	})
}

// Get echoes the persisted order with its line items.
func (s *Service) Get(ctx context.Context, orderID string) (*models.OrderWithItems, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetOrderLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderWithItems{Order: order, Items: items}, nil
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, order models.Order, items []models.OrderLineItem) {
	if s.publisher == nil {
		return
	}
	event := models.OrderEvent{
		EventID:   uuid.New().String(),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Status:    order.Status,
		Total:     order.Total,
		Timestamp: time.Now(),
	}
	for _, item := range items {
		event.Items = append(event.Items, models.OrderEventItem{
			ListedItemID: item.ListedItemID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Subtotal:     item.Subtotal,
		})
	}
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		log.Warn().Err(err).Str("orderId", order.ID).Str("routingKey", routingKey).Msg("Failed to publish order event")
	}
}

func rejectionReason(err error) string {
	var ve *apperr.ValidationError
	var ce *apperr.ConflictError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, apperr.ErrItemNotFound):
		return "item_not_found"
	case errors.As(err, &ce):
		return "conflict"
	default:
		return "persistence"
	}
}
