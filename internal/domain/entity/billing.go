package entity

import (
	"time"

	"gorm.io/gorm"
)

type TransactionType string

const (
	TxPurchase   TransactionType = "purchase"
	TxDeduction  TransactionType = "deduction"
	TxRefund     TransactionType = "refund"
	TxAdminGrant TransactionType = "admin_grant"
)

// SignedEffect returns the balance delta implied by the transaction type.
// Amounts are stored non-negative; direction comes from the type.
func (t TransactionType) SignedEffect(amount int64) int64 {
	switch t {
	case TxDeduction, TxRefund:
		return -amount
	default:
		return amount
	}
}

// CreditTransaction is an append-only ledger entry. Rows are created exactly
// once per ledger-affecting event and never updated. JobID is set only for
// deductions and carries a unique index so a job can be charged at most once.
type CreditTransaction struct {
	ID            string          `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string          `gorm:"not null;type:uuid;index" json:"user_id"`
	Type          TransactionType `gorm:"column:transaction_type;not null;type:text" json:"transaction_type"`
	Amount        int64           `gorm:"not null" json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	JobID         *string         `gorm:"type:uuid;uniqueIndex" json:"job_id,omitempty"`
	BalanceBefore int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64           `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment records one checkout. ExternalOrderID is the gateway's order id and
// the idempotency key for webhook replay; the pending->completed flip happens
// at most once and is the sole trigger for the paired purchase transaction.
type Payment struct {
	ID               string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID           string        `gorm:"not null;type:uuid;index" json:"user_id"`
	ExternalOrderID  string        `gorm:"uniqueIndex" json:"external_order_id"`
	Package          string        `gorm:"not null" json:"package"`
	CreditsPurchased int64         `gorm:"not null" json:"credits_purchased"`
	AmountUSD        float64       `gorm:"not null" json:"amount_usd"`
	Status           PaymentStatus `gorm:"not null;type:text;index" json:"status"`
	CheckoutURL      string        `json:"checkout_url,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt        time.Time     `json:"-"`
}

// PricingTier is read-mostly package configuration.
type PricingTier struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"-"`
	Package   string         `gorm:"uniqueIndex;not null" json:"package"`
	Credits   int64          `gorm:"not null" json:"credits"`
	PriceUSD  float64        `gorm:"not null" json:"price_usd"`
	Active    bool           `gorm:"not null;default:true" json:"-"`
	CreatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// WebhookEvent is the gateway's payload shape: {type, data{...}, timestamp}.
type WebhookEvent struct {
	Type      string           `json:"type"`
	Data      WebhookOrderData `json:"data"`
	Timestamp string           `json:"timestamp,omitempty"`
}

type WebhookOrderData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
