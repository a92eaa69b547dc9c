package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gridcommerce/checkout/internal/domain"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

const giftVouchersCollection = "gift_vouchers"

// GiftVoucherRepository implements repositories.GiftVoucherRepository.
// Activation runs in a transaction so a voucher is activated exactly once.
type GiftVoucherRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.BaseRepository[domain.GiftVoucher]
}

// NewGiftVoucherRepository constructs a Firestore-backed gift voucher repository.
func NewGiftVoucherRepository(provider *pfirestore.Provider) (*GiftVoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("gift voucher repository requires firestore provider")
	}
	return &GiftVoucherRepository{
		provider: provider,
		vouchers: pfirestore.NewBaseRepository[domain.GiftVoucher](provider, giftVouchersCollection, nil, nil),
	}, nil
}

// FindByCode loads a voucher by its redemption code.
func (r *GiftVoucherRepository) FindByCode(ctx context.Context, code string) (domain.GiftVoucher, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.GiftVoucher{}, pfirestore.WrapError("gift_vouchers.find_by_code", errors.New("voucher code is required"))
	}
	docs, err := r.vouchers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.GiftVoucher{}, err
	}
	if len(docs) == 0 {
		return domain.GiftVoucher{}, notFoundError("gift_vouchers.find_by_code", "voucher "+code)
	}
	voucher := docs[0].Data
	voucher.ID = docs[0].ID
	return voucher, nil
}

// Activate marks the voucher usable for the given order. A second call for
// the same order is a no-op; activation for another order is a conflict.
func (r *GiftVoucherRepository) Activate(ctx context.Context, voucherID string, orderID string, at time.Time) error {
	voucherID = strings.TrimSpace(voucherID)
	orderID = strings.TrimSpace(orderID)
	if voucherID == "" || orderID == "" {
		return errors.New("voucher id and order id are required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.vouchers.DocumentRef(ctx, voucherID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var voucher domain.GiftVoucher
		if err := snapshot.DataTo(&voucher); err != nil {
			return fmt.Errorf("firestore gift_vouchers decode %s: %w", voucherID, err)
		}
		if voucher.Activated {
			if voucher.ActivatedOrderID == orderID {
				return nil
			}
			return conflictError("gift_vouchers.activate", "voucher "+voucherID+" already activated by another order")
		}
		voucher.Activated = true
		voucher.ActivatedOrderID = orderID
		voucher.ActivatedAt = &at
		voucher.UpdatedAt = at
		return tx.Set(ref, voucher)
	})
}

// Debit reduces the remaining amount of an activated voucher.
func (r *GiftVoucherRepository) Debit(ctx context.Context, voucherID string, amount int64, at time.Time) error {
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return errors.New("voucher id is required")
	}
	if amount <= 0 {
		return errors.New("debit amount must be positive")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.vouchers.DocumentRef(ctx, voucherID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var voucher domain.GiftVoucher
		if err := snapshot.DataTo(&voucher); err != nil {
			return fmt.Errorf("firestore gift_vouchers decode %s: %w", voucherID, err)
		}
		if !voucher.Activated {
			return conflictError("gift_vouchers.debit", "voucher "+voucherID+" is not activated")
		}
		if voucher.RemainingAmount < amount {
			return conflictError("gift_vouchers.debit", "voucher "+voucherID+" balance is insufficient")
		}
		voucher.RemainingAmount -= amount
		voucher.UpdatedAt = at
		return tx.Set(ref, voucher)
	})
}
