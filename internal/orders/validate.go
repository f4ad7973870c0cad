package orders

import (
	"context"
	"fmt"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// validatedOrder is what intake validation hands to order creation: the
// resolved seller, the per-item price snapshot and the server-computed total.
type validatedOrder struct {
	SellerID string
	Items    []models.OrderLineItem
	Total    float64
}

// validate checks a purchase request against the catalog and the business
// rules before any mutation happens. Prices come from the catalog read here,
// never from the client, so a tampered unitPrice in the request cannot move
// the total.
func (s *Service) validate(ctx context.Context, principal models.Principal, req models.CreateOrderRequest) (*validatedOrder, error) {
	if principal.BuyerID == "" {
		return nil, &apperr.ValidationError{Field: "buyerId", Reason: "missing buyer identity"}
	}
	if len(req.Items) == 0 {
		return nil, &apperr.ValidationError{Field: "items", Reason: "order must contain at least one item"}
	}
	if req.DeliveryAddress == "" {
		return nil, &apperr.ValidationError{Field: "deliveryAddress", Reason: "delivery address is required"}
	}
	if req.PaymentMethod == "" {
		return nil, &apperr.ValidationError{Field: "paymentMethod", Reason: "payment method is required"}
	}

	sellers := make(map[string]struct{})
	seen := make(map[string]struct{}, len(req.Items))
	snapshot := make([]models.OrderLineItem, 0, len(req.Items))
	var total float64

	for i, line := range req.Items {
		if line.ListedItemID == "" {
			return nil, &apperr.ValidationError{Field: fmt.Sprintf("items[%d].listedItemId", i), Reason: "item identifier is required"}
		}
		if _, dup := seen[line.ListedItemID]; dup {
			return nil, &apperr.ValidationError{Field: fmt.Sprintf("items[%d].listedItemId", i), Reason: "duplicate listed item; merge quantities into a single line"}
		}
		seen[line.ListedItemID] = struct{}{}
		if line.Quantity <= 0 {
			return nil, &apperr.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "quantity must be positive"}
		}
		if line.UnitPrice <= 0 {
			return nil, &apperr.ValidationError{Field: fmt.Sprintf("items[%d].unitPrice", i), Reason: "unit price must be positive"}
		}

		item, err := s.store.GetListedItem(ctx, line.ListedItemID)
		if err != nil {
			return nil, err
		}
		sellers[item.SellerID] = struct{}{}

		subtotal := item.UnitPrice * float64(line.Quantity)
		snapshot = append(snapshot, models.OrderLineItem{
			ListedItemID: item.ID,
			Quantity:     line.Quantity,
			UnitPrice:    item.UnitPrice,
			Subtotal:     subtotal,
		})
		total += subtotal
	}

	if len(sellers) != 1 {
		return nil, &apperr.ConflictError{Reason: "multi-seller order: all items must belong to the same seller"}
	}
	var sellerID string
	for id := range sellers {
		sellerID = id
	}

	if principal.SellerID != "" && principal.SellerID == sellerID {
		return nil, &apperr.ConflictError{Reason: "self-purchase: a seller may not buy their own listing"}
	}

	return &validatedOrder{SellerID: sellerID, Items: snapshot, Total: total}, nil
}
