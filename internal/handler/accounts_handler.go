package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts
// ============================================================

func balanceHandler(svc *service.AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/balance")
		defer span.End()

		resp, err := svc.Balance(ctx, ClaimsFromContext(ctx).Sub)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(svc *service.AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/transactions")
		defer span.End()

		page, pageSize := parsePagination(r)
		resp, err := svc.History(ctx, ClaimsFromContext(ctx).Sub, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func accountNameHandler(svc *service.AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountNumber}/name")
		defer span.End()

		number := chi.URLParam(r, "accountNumber")
		span.SetAttributes(attribute.String("account.number", number))

		name, err := svc.ResolveOwnerName(ctx, number)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.AccountNameResponse{AccountNumber: number, AccountName: name})
	}
}

func auditHandler(svc *service.AuditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/audit")
		defer span.End()

		audit, err := svc.VerifyAccount(ctx, ClaimsFromContext(ctx).AccountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, audit)
	}
}

// ============================================================
// Transfers
// ============================================================

func transferHandler(svc *service.TransferService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/transfer")
		defer span.End()

		var req domain.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		from := ClaimsFromContext(ctx).AccountNumber
		receipt, err := svc.Transfer(ctx, from, req.ToAccountNumber, req.Amount, req.Pin)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}
