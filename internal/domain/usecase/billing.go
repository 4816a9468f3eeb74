package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/metrics"
)

type BillingRepo interface {
	ActiveTiers(ctx context.Context) ([]entity.PricingTier, error)
	TierByPackage(ctx context.Context, pkg string) (*entity.PricingTier, error)
	EnsureDefaultTiers(ctx context.Context) error
	CreatePayment(ctx context.Context, p *entity.Payment) error
	// ConfirmOrder flips the payment to completed and credits the purchase
	// in one transaction. The bool reports whether this call applied the
	// flip; a replay returns false with no ledger effect.
	ConfirmOrder(ctx context.Context, externalOrderID string) (*entity.Payment, bool, error)
	// RefundOrder flips a completed payment to refunded and applies the
	// refund (floored at zero balance), exactly once.
	RefundOrder(ctx context.Context, externalOrderID string) (*entity.Payment, bool, error)
}

// PaymentGateway is the narrow interface to the external checkout provider.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	VerifySignature(body []byte, signature string) bool
}

type CheckoutRequest struct {
	Package       string
	CustomerEmail string
	SuccessURL    string
	Metadata      map[string]string
}

type CheckoutSession struct {
	CheckoutURL     string
	ExternalOrderID string
}

// Gateway event types this backend reacts to; anything else is acked as a
// no-op so the gateway does not retry.
const (
	eventOrderConfirmed = "order.confirmed"
	eventOrderUpdated   = "order.updated"
)

type BillingUseCase struct {
	Billing BillingRepo
	Ledger  Ledger
	Users   UserRepo
	Gateway PaymentGateway
	log     *logrus.Logger
}

func NewBillingUseCase(billing BillingRepo, ledger Ledger, users UserRepo, gateway PaymentGateway, log *logrus.Logger) *BillingUseCase {
	return &BillingUseCase{Billing: billing, Ledger: ledger, Users: users, Gateway: gateway, log: log}
}

func (u *BillingUseCase) Tiers(ctx context.Context) ([]entity.PricingTier, error) {
	return u.Billing.ActiveTiers(ctx)
}

func (u *BillingUseCase) Balance(ctx context.Context, userID string) (int64, error) {
	return u.Ledger.Balance(ctx, userID)
}

func (u *BillingUseCase) History(ctx context.Context, userID string, limit int) ([]entity.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.Ledger.History(ctx, userID, limit)
}

// Checkout creates a pending payment and a gateway checkout session for it.
// Credits are only granted later, by the order-confirmed webhook.
func (u *BillingUseCase) Checkout(ctx context.Context, userID, pkg, successURL string) (*entity.Payment, error) {
	user, err := u.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tier, err := u.Billing.TierByPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}

	session, err := u.Gateway.CreateCheckout(ctx, CheckoutRequest{
		Package:       tier.Package,
		CustomerEmail: user.Email,
		SuccessURL:    successURL,
		Metadata: map[string]string{
			"user_id": userID,
			"package": tier.Package,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	payment := &entity.Payment{
		UserID:           userID,
		ExternalOrderID:  session.ExternalOrderID,
		Package:          tier.Package,
		CreditsPurchased: tier.Credits,
		AmountUSD:        tier.PriceUSD,
		Status:           entity.PaymentPending,
		CheckoutURL:      session.CheckoutURL,
	}
	if err := u.Billing.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"package":  tier.Package,
		"order_id": session.ExternalOrderID,
	}).Info("checkout created")

	return payment, nil
}

// HandleWebhook verifies and idempotently applies a gateway event. Unknown
// event types and unknown orders are acknowledged without error, since the
// gateway retries on failure responses.
func (u *BillingUseCase) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !u.Gateway.VerifySignature(body, signature) {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		return ErrInvalidSignature
	}

	var event entity.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}

	log := u.log.WithFields(logrus.Fields{"event": event.Type, "order_id": event.Data.ID})

	if event.Type != eventOrderConfirmed && event.Type != eventOrderUpdated {
		log.Debug("ignoring webhook event")
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return nil
	}

	switch event.Data.Status {
	case "paid", "confirmed", "completed":
		payment, applied, err := u.Billing.ConfirmOrder(ctx, event.Data.ID)
		if err != nil {
			return err
		}
		if !applied {
			log.Info("order already processed or unknown, acking")
			metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
			return nil
		}
		log.WithFields(logrus.Fields{
			"user_id": payment.UserID,
			"credits": payment.CreditsPurchased,
		}).Info("purchase credited")
		metrics.WebhookEvents.WithLabelValues("confirmed").Inc()

	case "refunded":
		payment, applied, err := u.Billing.RefundOrder(ctx, event.Data.ID)
		if err != nil {
			return err
		}
		if !applied {
			log.Info("refund already processed or order unknown, acking")
			metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
			return nil
		}
		log.WithFields(logrus.Fields{
			"user_id": payment.UserID,
			"credits": payment.CreditsPurchased,
		}).Info("refund applied")
		metrics.WebhookEvents.WithLabelValues("refunded").Inc()
	}

	return nil
}

// GrantCredits applies an admin grant to a user's ledger.
func (u *BillingUseCase) GrantCredits(ctx context.Context, adminID, targetUserID string, amount int64, reason string) (int64, error) {
	admin, err := u.Users.GetUser(ctx, adminID)
	if err != nil {
		return 0, err
	}
	if admin.Role != entity.RoleAdmin {
		return 0, ErrNotFound
	}
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive")
	}
	return u.Ledger.Credit(ctx, targetUserID, amount, entity.TxAdminGrant, reason)
}
