package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// PaymentConfig holds the payment gateway credentials.
type PaymentConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
}

// PaymentOrderRequest describes a gateway order. Amount is in minor units.
type PaymentOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// PaymentOrder is the gateway's view of an order.
type PaymentOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// PaymentGateway creates gateway orders and checks payment callback signatures.
type PaymentGateway struct {
	cfg     PaymentConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*PaymentOrder]
}

// NewPaymentGateway creates a new PaymentGateway.
func NewPaymentGateway(cfg PaymentConfig) *PaymentGateway {
	return &PaymentGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[*PaymentOrder](gobreaker.Settings{
			Name:    "payment-gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// CreateOrder registers an order with the gateway and returns its id.
func (g *PaymentGateway) CreateOrder(ctx context.Context, req PaymentOrderRequest) (string, error) {
	if req.Amount <= 0 {
		return "", errors.New("payment order amount must be positive")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("payment order marshal: %w", err)
	}

	order, err := g.breaker.Execute(func() (*PaymentOrder, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/orders", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("payment order request build: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("payment order request: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("payment order failed: status %d, body: %s", resp.StatusCode, string(body))
		}

		var order PaymentOrder
		if err := json.Unmarshal(body, &order); err != nil {
			return nil, fmt.Errorf("payment order unmarshal: %w", err)
		}
		if order.ID == "" {
			return nil, errors.New("payment order: empty id")
		}
		return &order, nil
	})
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// "orderID|paymentID" under the gateway secret.
func (g *PaymentGateway) VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := Sign(g.cfg.KeySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the callback signature for an order/payment pair.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
