package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lingopipe/internal/domain/usecase"
)

// Gateway is the HTTP client for the external checkout provider. Webhook
// authenticity is an HMAC-SHA256 hex digest of the raw body under the
// shared webhook secret.
type Gateway struct {
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	http          *http.Client
}

func NewGateway(baseURL, accessToken, webhookSecret string) *Gateway {
	return &Gateway{
		BaseURL:       baseURL,
		AccessToken:   accessToken,
		WebhookSecret: webhookSecret,
		http:          &http.Client{Timeout: 30 * time.Second},
	}
}

type checkoutPayload struct {
	ProductKey    string            `json:"product_key"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	SuccessURL    string            `json:"success_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (g *Gateway) CreateCheckout(ctx context.Context, req usecase.CheckoutRequest) (usecase.CheckoutSession, error) {
	var session usecase.CheckoutSession

	data, err := json.Marshal(checkoutPayload{
		ProductKey:    req.Package,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return session, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/checkouts", bytes.NewReader(data))
	if err != nil {
		return session, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.AccessToken)

	res, err := g.http.Do(httpReq)
	if err != nil {
		return session, fmt.Errorf("payment gateway request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return session, fmt.Errorf("payment gateway: status %d: %s", res.StatusCode, string(body))
	}

	var out checkoutResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return session, fmt.Errorf("decode checkout response: %w", err)
	}

	session.ExternalOrderID = out.ID
	session.CheckoutURL = out.URL
	return session, nil
}

// VerifySignature compares in constant time; an empty secret rejects
// everything rather than accepting everything.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	if g.WebhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
