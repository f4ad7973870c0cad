package payments_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/suite"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/eventbus"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/payments"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/reservations"
)

// OrderLifecycleSuite drives an order through the full happy path and the
// expiry path using the in-memory store: place, pay, confirm, complete on
// one side; place, let the TTL lapse, sweep on the other.
type OrderLifecycleSuite struct {
	suite.Suite
	ctx      context.Context
	store    *database.MemStore
	svc      *orders.Service
	manager  *reservations.Manager
	consumer *payments.Consumer
	buyer    models.Principal
}

func (s *OrderLifecycleSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = database.NewMemStore()
	s.store.PutListedItem(models.ListedItem{
		ID: "avocados", SellerID: "farmer1", Name: "Avocados", Unit: "kg",
		UnitPrice: 2.0, QuantityAvailable: 30, Status: models.ListedItemAvailable,
	})

	ledger := inventory.NewLedger()
	reconciler := reservations.NewReconciler(ledger)
	s.manager = reservations.NewManager(s.store, reconciler, 15*time.Minute, 100, nil)
	s.svc = orders.NewService(s.store, ledger, s.manager, reconciler, nil, nil)
	s.consumer = payments.NewConsumer(s.svc)
	s.buyer = models.Principal{BuyerID: "buyer1"}
}

func (s *OrderLifecycleSuite) placeOrder(qty int) *models.OrderWithItems {
	order, err := s.svc.Create(s.ctx, s.buyer, models.CreateOrderRequest{
		Items:           []models.OrderItemRequest{{ListedItemID: "avocados", Quantity: qty, UnitPrice: 2.0}},
		DeliveryAddress: "Market stall 4",
		PaymentMethod:   "mpesa",
	})
	s.Require().NoError(err)
	return order
}

func (s *OrderLifecycleSuite) paymentDelivery(orderID string, status models.PaymentStatus) amqp.Delivery {
	body, err := json.Marshal(models.PaymentResultEvent{
		EventID: "evt-1", OrderID: orderID, Status: status, Timestamp: time.Now(),
	})
	s.Require().NoError(err)
	return amqp.Delivery{Body: body}
}

func (s *OrderLifecycleSuite) TestPaidOrderRunsToCompletion() {
	order := s.placeOrder(10)

	item, err := s.store.GetListedItem(s.ctx, "avocados")
	s.Require().NoError(err)
	s.Equal(20, item.QuantityAvailable, "placing the order should reserve stock")

	err = s.consumer.MessageHandler(s.ctx, s.paymentDelivery(order.ID, models.PaymentCompleted))
	s.Require().NoError(err)

	got, err := s.store.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderConfirmed, got.Status)
	s.Equal(models.PaymentCompleted, got.PaymentStatus)

	// A later sweep must not give the sold stock back.
	expired, err := s.manager.SweepExpired(s.ctx, time.Now().Add(20*time.Minute))
	s.Require().NoError(err)
	s.Empty(expired)

	s.Require().NoError(s.svc.Complete(s.ctx, order.ID))
	got, err = s.store.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderCompleted, got.Status)

	item, err = s.store.GetListedItem(s.ctx, "avocados")
	s.Require().NoError(err)
	s.Equal(20, item.QuantityAvailable, "sold stock stays sold")
}

func (s *OrderLifecycleSuite) TestFailedPaymentLeavesOrderPending() {
	order := s.placeOrder(10)

	err := s.consumer.MessageHandler(s.ctx, s.paymentDelivery(order.ID, models.PaymentFailed))
	s.Require().NoError(err)

	got, err := s.store.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderPending, got.Status, "a failed payment does not move the order")
	s.Equal(models.PaymentFailed, got.PaymentStatus)

	// Still pending, so the TTL sweep reclaims it.
	expired, err := s.manager.SweepExpired(s.ctx, time.Now().Add(20*time.Minute))
	s.Require().NoError(err)
	s.Len(expired, 1)

	item, err := s.store.GetListedItem(s.ctx, "avocados")
	s.Require().NoError(err)
	s.Equal(30, item.QuantityAvailable)
}

func (s *OrderLifecycleSuite) TestPaymentAfterExpiryIsDropped() {
	order := s.placeOrder(10)

	expired, err := s.manager.SweepExpired(s.ctx, time.Now().Add(20*time.Minute))
	s.Require().NoError(err)
	s.Len(expired, 1)

	// The completed payment arrives late. The handler ACKs it; the order
	// stays cancelled and no stock moves.
	err = s.consumer.MessageHandler(s.ctx, s.paymentDelivery(order.ID, models.PaymentCompleted))
	s.Require().NoError(err)

	got, err := s.store.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderCancelled, got.Status)
	s.Equal(models.PaymentCompleted, got.PaymentStatus)

	item, err := s.store.GetListedItem(s.ctx, "avocados")
	s.Require().NoError(err)
	s.Equal(30, item.QuantityAvailable)
}

func (s *OrderLifecycleSuite) TestMalformedPaymentIsPermanentFailure() {
	err := s.consumer.MessageHandler(s.ctx, amqp.Delivery{Body: []byte("{not json")})
	s.Require().ErrorIs(err, eventbus.ErrPermanentFailure)

	err = s.consumer.MessageHandler(s.ctx, s.paymentDelivery("", models.PaymentCompleted))
	s.Require().ErrorIs(err, eventbus.ErrPermanentFailure)

	err = s.consumer.MessageHandler(s.ctx, s.paymentDelivery("no-such-order", models.PaymentCompleted))
	s.Require().ErrorIs(err, eventbus.ErrPermanentFailure)
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleSuite))
}
