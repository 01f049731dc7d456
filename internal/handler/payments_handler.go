package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/paystack"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWebhookBody caps what we read before the signature is checked.
const maxWebhookBody = 1 << 20

// ============================================================
// Payments
// ============================================================

func initializePaymentHandler(svc *service.PaymentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payments/initialize")
		defer span.End()

		var req domain.InitializePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		claims := ClaimsFromContext(ctx)
		checkout, err := svc.Initialize(ctx, claims.AccountID, req.Amount, claims.Email)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, checkout)
	}
}

func verifyPaymentHandler(svc *service.PaymentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/payments/verify/{reference}")
		defer span.End()

		reference := chi.URLParam(r, "reference")
		span.SetAttributes(attribute.String("payment.reference", reference))

		res, err := svc.Verify(ctx, ClaimsFromContext(ctx).AccountID, reference)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// webhookHandler passes the raw body through untouched: the signature is
// computed over the exact bytes the gateway sent.
func webhookHandler(svc *service.PaymentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payments/webhook")
		defer span.End()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		res, err := svc.HandleWebhook(ctx, body, r.Header.Get(paystack.SignatureHeader), r.RemoteAddr)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
