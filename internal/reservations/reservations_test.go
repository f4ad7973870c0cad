package reservations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/reservations"
)

type fixture struct {
	store      *database.MemStore
	manager    *reservations.Manager
	reconciler *reservations.Reconciler
	orders     *orders.Service
}

func newFixture() *fixture {
	store := database.NewMemStore()
	store.PutListedItem(models.ListedItem{
		ID: "itemA", SellerID: "farmer1", UnitPrice: 2.0,
		QuantityAvailable: 20, Status: models.ListedItemAvailable,
	})
	store.PutListedItem(models.ListedItem{
		ID: "itemB", SellerID: "farmer1", UnitPrice: 4.0,
		QuantityAvailable: 10, Status: models.ListedItemAvailable,
	})

	ledger := inventory.NewLedger()
	reconciler := reservations.NewReconciler(ledger)
	manager := reservations.NewManager(store, reconciler, 15*time.Minute, 100, nil)
	svc := orders.NewService(store, ledger, manager, reconciler, nil, nil)
	return &fixture{store: store, manager: manager, reconciler: reconciler, orders: svc}
}

func (f *fixture) placeOrder(t *testing.T) *models.OrderWithItems {
	t.Helper()
	order, err := f.orders.Create(context.Background(), models.Principal{BuyerID: "buyer1"}, models.CreateOrderRequest{
		Items: []models.OrderItemRequest{
			{ListedItemID: "itemA", Quantity: 5, UnitPrice: 2.0},
			{ListedItemID: "itemB", Quantity: 3, UnitPrice: 4.0},
		},
		DeliveryAddress: "12 Acacia Road",
		PaymentMethod:   "cash",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return order
}

func (f *fixture) quantities(t *testing.T) (int, int) {
	t.Helper()
	ctx := context.Background()
	a, err := f.store.GetListedItem(ctx, "itemA")
	if err != nil {
		t.Fatalf("GetListedItem failed: %v", err)
	}
	b, err := f.store.GetListedItem(ctx, "itemB")
	if err != nil {
		t.Fatalf("GetListedItem failed: %v", err)
	}
	return a.QuantityAvailable, b.QuantityAvailable
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	order := f.placeOrder(t)

	if a, b := f.quantities(t); a != 15 || b != 7 {
		t.Fatalf("Expected stock 15/7 after order, got %d/%d", a, b)
	}

	err := f.store.WithinTx(ctx, func(tx database.Tx) error {
		return f.reconciler.Reconcile(ctx, tx, order.ID)
	})
	if err != nil {
		t.Fatalf("First reconcile failed: %v", err)
	}
	if a, b := f.quantities(t); a != 20 || b != 10 {
		t.Fatalf("Expected stock restored to 20/10, got %d/%d", a, b)
	}

	err = f.store.WithinTx(ctx, func(tx database.Tx) error {
		return f.reconciler.Reconcile(ctx, tx, order.ID)
	})
	if !errors.Is(err, apperr.ErrAlreadyReleased) {
		t.Fatalf("Expected ErrAlreadyReleased on second reconcile, got: %v", err)
	}
	if a, b := f.quantities(t); a != 20 || b != 10 {
		t.Errorf("Second reconcile must not credit stock again, got %d/%d", a, b)
	}
}

func TestReconcileUnknownOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	err := f.store.WithinTx(ctx, func(tx database.Tx) error {
		return f.reconciler.Reconcile(ctx, tx, "no-such-order")
	})
	if !errors.Is(err, apperr.ErrReservationNotFound) {
		t.Fatalf("Expected ErrReservationNotFound, got: %v", err)
	}
}

func TestSweepExpiresUnpaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	order := f.placeOrder(t)

	// One minute past the 15 minute TTL.
	expired, err := f.manager.SweepExpired(ctx, time.Now().Add(16*time.Minute))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != order.ID {
		t.Fatalf("Expected the order to be swept, got %v", expired)
	}

	if a, b := f.quantities(t); a != 20 || b != 10 {
		t.Errorf("Expected stock restored to 20/10, got %d/%d", a, b)
	}

	got, _ := f.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderCancelled {
		t.Errorf("Expected order cancelled, got %s", got.Status)
	}

	_ = f.store.WithinTx(ctx, func(tx database.Tx) error {
		res, err := tx.GetReservation(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetReservation failed: %v", err)
		}
		if !res.Released {
			t.Error("Expected reservation released after sweep")
		}
		return nil
	})
}

func TestSweepSkipsFreshReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.placeOrder(t)

	expired, err := f.manager.SweepExpired(ctx, time.Now().Add(14*time.Minute))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected nothing to expire before the TTL, got %d", len(expired))
	}
	if a, b := f.quantities(t); a != 15 || b != 7 {
		t.Errorf("Expected stock untouched at 15/7, got %d/%d", a, b)
	}
}

func TestSweepReleasesConfirmedOrderWithoutRestock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	order := f.placeOrder(t)

	if err := f.orders.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	expired, err := f.manager.SweepExpired(ctx, time.Now().Add(16*time.Minute))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("A confirmed order must not be expired, got %d", len(expired))
	}

	// The sale keeps its stock; the reservation is just consumed.
	if a, b := f.quantities(t); a != 15 || b != 7 {
		t.Errorf("Expected stock to stay at 15/7, got %d/%d", a, b)
	}
	got, _ := f.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderConfirmed {
		t.Errorf("Expected order to stay confirmed, got %s", got.Status)
	}
}

func TestCancelAndSweepRestockOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	order := f.placeOrder(t)

	if err := f.orders.Cancel(ctx, models.Principal{BuyerID: "buyer1"}, order.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := f.manager.SweepExpired(ctx, time.Now().Add(16*time.Minute)); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if a, b := f.quantities(t); a != 20 || b != 10 {
		t.Errorf("Stock must be credited exactly once, got %d/%d", a, b)
	}
}

func TestFailedRestoreLeavesReservationRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	order := f.placeOrder(t)

	f.store.FailRestores(true)
	if _, err := f.manager.SweepExpired(ctx, time.Now().Add(16*time.Minute)); err == nil {
		t.Fatal("Expected sweep to report the restore failure")
	}

	// The released flag must have rolled back with the transaction.
	_ = f.store.WithinTx(ctx, func(tx database.Tx) error {
		res, err := tx.GetReservation(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetReservation failed: %v", err)
		}
		if res.Released {
			t.Error("Expected reservation to stay unreleased after failed restore")
		}
		return nil
	})

	// Next sweep succeeds once the store recovers.
	f.store.FailRestores(false)
	expired, err := f.manager.SweepExpired(ctx, time.Now().Add(16*time.Minute))
	if err != nil {
		t.Fatalf("Retry sweep failed: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("Expected retry to sweep the order, got %d", len(expired))
	}
	if a, b := f.quantities(t); a != 20 || b != 10 {
		t.Errorf("Expected stock restored to 20/10, got %d/%d", a, b)
	}
}
