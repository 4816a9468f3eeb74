package psql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
)

// defaultTiers seeds pricing when the table is empty.
var defaultTiers = []entity.PricingTier{
	{Package: "starter", Credits: 100, PriceUSD: 5.0},
	{Package: "basic", Credits: 250, PriceUSD: 10.0},
	{Package: "pro", Credits: 500, PriceUSD: 18.0},
	{Package: "enterprise", Credits: 1000, PriceUSD: 30.0},
}

// BillingRepo owns payments and pricing tiers. Order confirmation and refund
// pair the payment status flip with the ledger mutation in one DB
// transaction, keyed idempotently on the external order id.
type BillingRepo struct {
	db     *gorm.DB
	ledger *LedgerRepo
}

func NewBillingRepo(db *gorm.DB, ledger *LedgerRepo) *BillingRepo {
	return &BillingRepo{db: db, ledger: ledger}
}

func (r *BillingRepo) EnsureDefaultTiers(ctx context.Context) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&entity.PricingTier{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for i := range defaultTiers {
		tier := defaultTiers[i]
		tier.ID = uuid.New().String()
		tier.Active = true
		if err := r.db.WithContext(ctx).Create(&tier).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *BillingRepo) ActiveTiers(ctx context.Context) ([]entity.PricingTier, error) {
	var tiers []entity.PricingTier
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("credits ASC").
		Find(&tiers).Error
	return tiers, err
}

func (r *BillingRepo) TierByPackage(ctx context.Context, pkg string) (*entity.PricingTier, error) {
	var tier entity.PricingTier
	err := r.db.WithContext(ctx).
		First(&tier, "package = ? AND active = ?", pkg, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func (r *BillingRepo) CreatePayment(ctx context.Context, p *entity.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

// ConfirmOrder applies the paid webhook: a conditional update flips the
// payment out of its non-completed state, and only the caller that wins the
// flip appends the purchase transaction. Replays and unknown orders return
// applied=false with no ledger effect.
func (r *BillingRepo) ConfirmOrder(ctx context.Context, externalOrderID string) (*entity.Payment, bool, error) {
	var payment entity.Payment
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, "external_order_id = ?", externalOrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil // unknown order: ack as no-op
			}
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&entity.Payment{}).
			Where("external_order_id = ? AND status <> ?", externalOrderID, entity.PaymentCompleted).
			Updates(map[string]any{
				"status":       entity.PaymentCompleted,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already completed: replay
		}

		if _, err := r.ledger.applyEntry(ctx, tx, payment.UserID, payment.CreditsPurchased,
			entity.TxPurchase, "Purchase via "+payment.Package+" package", nil); err != nil {
			return err
		}

		payment.Status = entity.PaymentCompleted
		payment.CompletedAt = &now
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if payment.ID == "" {
		return nil, false, nil
	}
	return &payment, applied, nil
}

// RefundOrder reverses a completed payment exactly once. The ledger effect
// is negative, floored at a zero balance.
func (r *BillingRepo) RefundOrder(ctx context.Context, externalOrderID string) (*entity.Payment, bool, error) {
	var payment entity.Payment
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, "external_order_id = ?", externalOrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := tx.Model(&entity.Payment{}).
			Where("external_order_id = ? AND status = ?", externalOrderID, entity.PaymentCompleted).
			Update("status", entity.PaymentRefunded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // never completed, or already refunded
		}

		if _, err := r.ledger.applyEntry(ctx, tx, payment.UserID, payment.CreditsPurchased,
			entity.TxRefund, "Refund for order "+externalOrderID, nil); err != nil {
			return err
		}

		payment.Status = entity.PaymentRefunded
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if payment.ID == "" {
		return nil, false, nil
	}
	return &payment, applied, nil
}
