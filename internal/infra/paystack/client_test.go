package paystack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/paystack"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "sk_test_secret"

func newClient(t *testing.T, handler http.HandlerFunc) *paystack.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker("paystack-test", func(err error) bool {
		return err == nil || paystack.IsRejection(err)
	}, zap.NewNop())
	return paystack.NewClient(srv.Client(), paystack.Config{
		BaseURL:     srv.URL,
		SecretKey:   secret,
		CallbackURL: "https://wallet.example/callback",
	}, cb, resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4})
}

func TestInitialize_SendsMinorUnitsAndReturnsURL(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+secret, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 150050, body["amount"])
		assert.Equal(t, "ada@example.com", body["email"])
		assert.Equal(t, "ref-1", body["reference"])
		assert.Equal(t, "NGN", body["currency"])

		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","reference":"ref-1"}}`))
	})

	checkout, err := client.Initialize(context.Background(), 150050, "ada@example.com", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", checkout)
}

func TestInitialize_NotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Initialize(context.Background(), 100, "ada@example.com", "ref-1")
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.EqualValues(t, 1, calls.Load())
}

func TestInitialize_RefusedBody(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	})

	_, err := client.Initialize(context.Background(), 100, "ada@example.com", "ref-1")
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
}

func TestVerify_Success(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":250000,"reference":"ref-1"}}`))
	})

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.EqualValues(t, 250000, v.AmountMinor)
	assert.Equal(t, "success", v.Status)
}

func TestVerify_FailedStatusIsDefinitive(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"abandoned","amount":250000}}`))
	})

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.True(t, v.DefinitiveFailure())
}

func TestVerify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":100}}`))
	})

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.EqualValues(t, 3, calls.Load())
}

func TestVerify_UnknownReferenceIsAmbiguous(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	v, err := client.Verify(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.False(t, v.DefinitiveFailure())
	assert.EqualValues(t, 1, calls.Load(), "4xx must not be retried")
}

func TestVerify_Timeout(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Verify(ctx, "ref-1")
	var timeout *domain.ErrTimeout
	assert.ErrorAs(t, err, &timeout)
}

func TestSignatureValid(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	assert.True(t, client.SignatureValid(body, paystack.Sign(secret, body)))
	assert.False(t, client.SignatureValid(body, paystack.Sign("other", body)))
	assert.False(t, client.SignatureValid(append(body, ' '), paystack.Sign(secret, body)))
	assert.False(t, client.SignatureValid(body, "not-hex"))
	assert.False(t, client.SignatureValid(body, ""))
}
