package v1

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lingopipe/internal/domain/entity"
)

type BillingService interface {
	Tiers(ctx context.Context) ([]entity.PricingTier, error)
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]entity.CreditTransaction, error)
	Checkout(ctx context.Context, userID, pkg, successURL string) (*entity.Payment, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	GrantCredits(ctx context.Context, adminID, targetUserID string, amount int64, reason string) (int64, error)
}

type BillingHandler struct {
	Billing BillingService
	// SignatureHeader is the header the gateway signs webhooks with.
	SignatureHeader string
}

func NewBillingHandler(billing BillingService, signatureHeader string) *BillingHandler {
	if signatureHeader == "" {
		signatureHeader = "X-Webhook-Signature"
	}
	return &BillingHandler{Billing: billing, SignatureHeader: signatureHeader}
}

func (h *BillingHandler) GetPricing(c *gin.Context) {
	tiers, err := h.Billing.Tiers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

func (h *BillingHandler) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")

	balance, err := h.Billing.Balance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "credits": balance})
}

func (h *BillingHandler) GetTransactions(c *gin.Context) {
	userID := c.GetString("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.Billing.History(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

type checkoutRequest struct {
	Package    string `json:"package" binding:"required"`
	SuccessURL string `json:"success_url"`
}

func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	userID := c.GetString("user_id")

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.Billing.Checkout(c.Request.Context(), userID, req.Package, req.SuccessURL)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment_id":   payment.ID,
		"order_id":     payment.ExternalOrderID,
		"checkout_url": payment.CheckoutURL,
		"package":      payment.Package,
		"credits":      payment.CreditsPurchased,
		"amount_usd":   payment.AmountUSD,
	})
}

// HandleWebhook verifies the signature over the raw body before any parsing.
// Mounted outside the auth middleware: the gateway authenticates with the
// signature, not a bearer token.
func (h *BillingHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(h.SignatureHeader)
	if err := h.Billing.HandleWebhook(c.Request.Context(), body, signature); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type grantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

func (h *BillingHandler) GrantCredits(c *gin.Context) {
	adminID := c.GetString("user_id")

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "Admin credit grant"
	}

	balance, err := h.Billing.GrantCredits(c.Request.Context(), adminID, req.UserID, req.Amount, reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "credits": balance})
}
