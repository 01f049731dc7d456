// Package paystack adapts the Paystack transaction API to port.PaymentGateway.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("infra/paystack")

const serviceName = "paystack"

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// Config holds gateway settings.
type Config struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Currency    string
}

// Client talks to Paystack with a circuit breaker, a bulkhead and, for
// idempotent reads only, retries.
type Client struct {
	httpClient *http.Client
	cfg        Config
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewClient creates a new Client.
func NewClient(httpClient *http.Client, cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		cb:         cb,
		retry:      retry,
		bulkhead:   resilience.NewBulkhead(retry.MaxConcurrency),
	}
}

// ============================================================
// Wire types
// ============================================================

type initializeRequest struct {
	Amount      int64  `json:"amount"`
	Email       string `json:"email"`
	Reference   string `json:"reference"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// rejectedError is a 4xx answer: Paystack is up and said no.
type rejectedError struct {
	status  int
	message string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("paystack rejected request: status=%d message=%q", e.status, e.message)
}

// IsRejection lets the circuit breaker ignore 4xx answers.
func IsRejection(err error) bool {
	var rej *rejectedError
	return errors.As(err, &rej)
}

// ============================================================
// Initialize
// ============================================================

// Initialize opens a checkout for amountMinor under our reference. It is
// not retried: a lost response is recovered by verifying the reference.
func (c *Client) Initialize(ctx context.Context, amountMinor int64, email, reference string) (string, error) {
	ctx, span := tracer.Start(ctx, "PaystackClient.Initialize")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.reference", reference),
		attribute.Int64("payment.amount_minor", amountMinor),
	)

	body, err := json.Marshal(initializeRequest{
		Amount:      amountMinor,
		Email:       email,
		Reference:   reference,
		Currency:    c.cfg.Currency,
		CallbackURL: c.cfg.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("encode initialize request: %w", err)
	}

	var out initializeResponse
	err = c.call(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out)
	})
	if err != nil {
		return "", c.wrap(err)
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return "", &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("initialize refused: %s", out.Message)}
	}
	return out.Data.AuthorizationURL, nil
}

// ============================================================
// Verify
// ============================================================

// Verify reads Paystack's own record of reference. An unknown reference is
// not an error: it comes back unsuccessful with status "unknown".
func (c *Client) Verify(ctx context.Context, reference string) (*domain.GatewayVerification, error) {
	ctx, span := tracer.Start(ctx, "PaystackClient.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", reference))

	var out verifyResponse
	err := c.call(ctx, func() error {
		return resilience.RetryWithBackoff(ctx, c.retry, func() error {
			out = verifyResponse{}
			err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out)
			if IsRejection(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})

	var rej *rejectedError
	switch {
	case errors.As(err, &rej) && (rej.status == http.StatusNotFound || rej.status == http.StatusBadRequest):
		return &domain.GatewayVerification{Status: "unknown"}, nil
	case err != nil:
		return nil, c.wrap(err)
	}

	status := strings.ToLower(out.Data.Status)
	span.SetAttributes(attribute.String("payment.gateway_status", status))
	return &domain.GatewayVerification{
		Success:     out.Status && status == "success",
		AmountMinor: out.Data.Amount,
		Status:      status,
	}, nil
}

// ============================================================
// Webhook signature
// ============================================================

// SignatureValid checks the hex HMAC-SHA512 of rawBody under the secret key.
func (c *Client) SignatureValid(rawBody []byte, signature string) bool {
	if c.cfg.SecretKey == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.cfg.SecretKey))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature Paystack would send for rawBody.
func Sign(secretKey string, rawBody []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// ============================================================
// Transport
// ============================================================

// call runs fn inside the bulkhead and the circuit breaker.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer c.bulkhead.Release()

	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("paystack returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return &rejectedError{status: resp.StatusCode, message: msg.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paystack response: %w", err)
	}
	return nil
}

func (c *Client) wrap(err error) error {
	switch {
	case resilience.IsBreakerOpen(err):
		return &domain.ErrCircuitOpen{Service: serviceName}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: serviceName}
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}
