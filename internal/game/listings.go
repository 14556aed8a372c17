package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/metrics"
)

const maxUnitPrice = int64(1_000_000_000)

func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (CreateListingResult, error) {
	var out CreateListingResult
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.ReservedFor = strings.TrimSpace(in.ReservedFor)
	if err := validateOwner(in.SellerID); err != nil {
		return out, err
	}
	item, ok := s.catalog.Item(in.ItemID)
	if !ok {
		return out, notFoundf("item %q", in.ItemID)
	}
	if !item.Tradable {
		return out, invalidf("item %q cannot be traded", in.ItemID)
	}
	if in.Quantity <= 0 || in.Quantity > MaxListingUnits {
		return out, invalidf("quantity must be between 1 and %d", MaxListingUnits)
	}
	if in.UnitPrice <= 0 || in.UnitPrice > maxUnitPrice {
		return out, invalidf("unit price must be between 1 and %d", maxUnitPrice)
	}
	if in.ReservedFor != "" {
		if err := validateOwner(in.ReservedFor); err != nil {
			return out, err
		}
		if in.ReservedFor == in.SellerID {
			return out, invalidf("cannot reserve a listing for yourself")
		}
	}
	value := in.Quantity * in.UnitPrice
	baseFee, err := s.econ.ListingFee(value, in.DurationHours)
	if err != nil {
		return out, err
	}

	err = s.run(ctx, "create_listing", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = CreateListingResult{}
		if err := claimKey(ctx, uow, in.SellerID, in.IdempotencyKey, "create_listing"); err != nil {
			return err
		}
		now := s.clock.Now()

		// The discount must be known before the fee is debited.
		discount := int64(0)
		if in.ReservedFor != "" {
			pct, err := s.alliancePct(ctx, uow, in.SellerID, in.ReservedFor)
			if err != nil {
				return err
			}
			discount = AllianceDiscount(baseFee, pct)
		}
		fee := baseFee - discount

		key := StackKey{Owner: in.SellerID, Item: in.ItemID, Location: LocationBackpack}
		if _, err := uow.WithdrawItems(ctx, key, in.Quantity); err != nil {
			return inventoryShortfall(ctx, uow, err, key, in.Quantity)
		}

		l := Listing{
			SellerID:      in.SellerID,
			ReservedFor:   in.ReservedFor,
			ItemID:        in.ItemID,
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			Fee:           fee,
			DurationHours: in.DurationHours,
			Status:        ListingActive,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Duration(in.DurationHours) * time.Hour),
		}
		if err := uow.InsertListing(ctx, &l); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}

		balance := int64(0)
		if fee > 0 {
			meta := map[string]any{"listing_id": l.ID, "base_fee": baseFee, "discount": discount}
			balance, err = chargeFee(ctx, uow, now, in.SellerID, fee, ReasonListingFee, uuid.NewString(), meta)
			if err != nil {
				return err
			}
		} else {
			balance, err = uow.Balance(ctx, in.SellerID)
			if err != nil {
				return err
			}
		}

		out = CreateListingResult{
			Listing:    l,
			TotalValue: value,
			BaseFee:    baseFee,
			Discount:   discount,
			Fee:        fee,
			Balance:    balance,
		}
		scope.emit(Event{Kind: "listing.created", OwnerID: l.SellerID, Ref: l.ID, At: now, Data: map[string]any{
			"item_id": l.ItemID, "quantity": l.Quantity, "unit_price": l.UnitPrice,
		}})
		return nil
	})
	if err != nil {
		return CreateListingResult{}, err
	}
	s.log.Info("listing created", "listing_id", out.Listing.ID, "seller_id", in.SellerID, "fee", out.Fee)
	return out, nil
}

// alliancePct is the fee discount between the guilds of a and b, or 0.
func (s *Service) alliancePct(ctx context.Context, uow UnitOfWork, a, b string) (int, error) {
	ga, ok, err := uow.GuildOf(ctx, a)
	if err != nil || !ok {
		return 0, err
	}
	gb, ok, err := uow.GuildOf(ctx, b)
	if err != nil || !ok {
		return 0, err
	}
	if ga == gb {
		return 0, nil
	}
	pct, ok, err := uow.AllianceDiscount(ctx, ga, gb)
	if err != nil || !ok {
		return 0, err
	}
	return pct, nil
}

func (s *Service) PurchaseListing(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	var out PurchaseResult
	if err := validateOwner(in.BuyerID); err != nil {
		return out, err
	}
	if in.ListingID <= 0 {
		return out, invalidf("listing id is required")
	}

	err := s.run(ctx, "purchase_listing", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = PurchaseResult{}
		if err := claimKey(ctx, uow, in.BuyerID, in.IdempotencyKey, "purchase_listing"); err != nil {
			return err
		}
		now := s.clock.Now()

		l, err := uow.GetListing(ctx, in.ListingID)
		if err != nil {
			return err
		}
		if l.Status != ListingActive || !now.Before(l.ExpiresAt) {
			return fmt.Errorf("%w: listing %d is %s", ErrListingUnavailable, l.ID, l.Status)
		}
		if l.SellerID == in.BuyerID {
			return invalidf("cannot buy your own listing")
		}
		if l.ReservedFor != "" && l.ReservedFor != in.BuyerID {
			return invalidf("listing %d is reserved for another buyer", l.ID)
		}

		// Close first: a concurrent buyer that loses the race fails here.
		if err := uow.CloseListing(ctx, l.ID, ListingSold, in.BuyerID, now); err != nil {
			return err
		}
		l.Status = ListingSold
		l.BuyerID = in.BuyerID
		closed := now
		l.ClosedAt = &closed

		total := l.TotalValue()
		meta := map[string]any{"listing_id": l.ID, "item_id": l.ItemID, "quantity": l.Quantity}
		tr, err := Transfer(ctx, uow, now, in.BuyerID, l.SellerID, total, ReasonPurchase, "", meta)
		if err != nil {
			return err
		}
		if _, err := uow.DepositItems(ctx, StackKey{Owner: in.BuyerID, Item: l.ItemID, Location: LocationBackpack}, l.Quantity); err != nil {
			return fmt.Errorf("deposit items: %w", err)
		}
		for _, member := range []string{in.BuyerID, l.SellerID} {
			if err := s.creditTrade(ctx, uow, scope, member, now); err != nil {
				return err
			}
		}

		out = PurchaseResult{
			Listing:       l,
			TotalValue:    total,
			BuyerBalance:  tr.PayerBalance,
			CorrelationID: tr.CorrelationID,
		}
		scope.emit(Event{Kind: "listing.sold", OwnerID: l.SellerID, Ref: l.ID, At: now, Data: map[string]any{
			"buyer_id": in.BuyerID, "total_value": total,
		}})
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("listing sold", "listing_id", in.ListingID, "buyer_id", in.BuyerID, "total", out.TotalValue)
	return out, nil
}

// CancelListing returns the goods to the seller. The fee is not refunded.
func (s *Service) CancelListing(ctx context.Context, sellerID string, listingID int64, idempotencyKey string) (Listing, error) {
	var out Listing
	if err := validateOwner(sellerID); err != nil {
		return out, err
	}
	err := s.run(ctx, "cancel_listing", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		if err := claimKey(ctx, uow, sellerID, idempotencyKey, "cancel_listing"); err != nil {
			return err
		}
		now := s.clock.Now()
		l, err := uow.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.SellerID != sellerID {
			return invalidf("listing %d belongs to another seller", l.ID)
		}
		l, err = closeAndReturn(ctx, uow, l, ListingCancelled, now)
		if err != nil {
			return err
		}
		out = l
		scope.emit(Event{Kind: "listing.cancelled", OwnerID: l.SellerID, Ref: l.ID, At: now})
		return nil
	})
	return out, err
}

// ExpireListing expires one listing whose duration has elapsed.
func (s *Service) ExpireListing(ctx context.Context, listingID int64) (Listing, error) {
	var out Listing
	err := s.run(ctx, "expire_listing", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		now := s.clock.Now()
		l, err := uow.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.Status != ListingActive {
			return fmt.Errorf("%w: listing %d is %s", ErrListingUnavailable, l.ID, l.Status)
		}
		if now.Before(l.ExpiresAt) {
			return fmt.Errorf("%w: listing %d expires at %s", ErrNotYetComplete, l.ID, l.ExpiresAt.Format(time.RFC3339))
		}
		l, err = closeAndReturn(ctx, uow, l, ListingExpired, now)
		if err != nil {
			return err
		}
		out = l
		scope.emit(Event{Kind: "listing.expired", OwnerID: l.SellerID, Ref: l.ID, At: now})
		return nil
	})
	return out, err
}

func closeAndReturn(ctx context.Context, uow UnitOfWork, l Listing, to ListingStatus, now time.Time) (Listing, error) {
	if err := uow.CloseListing(ctx, l.ID, to, "", now); err != nil {
		return l, err
	}
	if _, err := uow.DepositItems(ctx, StackKey{Owner: l.SellerID, Item: l.ItemID, Location: LocationBackpack}, l.Quantity); err != nil {
		return l, fmt.Errorf("return items: %w", err)
	}
	l.Status = to
	closed := now
	l.ClosedAt = &closed
	return l, nil
}

// ExpireDue sweeps up to limit due listings, one transaction each. Listings
// bought or cancelled between the scan and the expiry are skipped.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.econ.SweepBatch
	}
	var ids []int64
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		ids, err = uow.DueListings(ctx, s.clock.Now(), limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	var firstErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, err := s.ExpireListing(ctx, id)
		switch {
		case err == nil:
			expired++
			metrics.ListingsExpired.Inc()
		case errors.Is(err, ErrListingUnavailable), errors.Is(err, ErrNotYetComplete):
		default:
			s.log.Warn("expire listing failed", "listing_id", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return expired, firstErr
}

func inventoryShortfall(ctx context.Context, uow Inventory, err error, key StackKey, required int64) error {
	if !errors.Is(err, ErrInsufficientInventory) {
		return fmt.Errorf("withdraw %s: %w", key.Item, err)
	}
	available, qerr := uow.StackQuantity(ctx, key)
	if qerr != nil {
		return err
	}
	return &ShortfallError{Kind: ErrInsufficientInventory, Item: key.Item, Required: required, Available: available}
}
