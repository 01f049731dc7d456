package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================
// Gateway top-ups
// ============================================================

// EventChargeSuccess is the only webhook event kind that can credit a wallet.
const EventChargeSuccess = "charge.success"

// TopUpDescription labels pending gateway-funded credits.
const TopUpDescription = "Paystack AddMoney"

// PaymentInit is returned to the client after a top-up is initialized.
type PaymentInit struct {
	Reference   string          `json:"reference"`
	CheckoutURL string          `json:"checkout_url"`
	Amount      decimal.Decimal `json:"amount"`
}

// GatewayVerification is the gateway's own record for a reference.
type GatewayVerification struct {
	Success     bool
	AmountMinor int64
	Status      string
}

// Definitive gateway statuses. Anything else is treated as still pending.
var gatewayFailureStatuses = map[string]bool{
	"failed":    true,
	"abandoned": true,
	"reversed":  true,
}

// DefinitiveFailure reports whether the gateway status closes the payment
// as failed.
func (v GatewayVerification) DefinitiveFailure() bool {
	return !v.Success && gatewayFailureStatuses[v.Status]
}

// ReconcileOutcome is the result kind of a reconciliation attempt.
type ReconcileOutcome string

const (
	OutcomeCredited         ReconcileOutcome = "credited"
	OutcomeAlreadyProcessed ReconcileOutcome = "already_processed"
	OutcomeIgnored          ReconcileOutcome = "ignored"
	OutcomeAmountMismatch   ReconcileOutcome = "amount_mismatch"
	OutcomeMarkedFailed     ReconcileOutcome = "marked_failed"
	OutcomeStillPending     ReconcileOutcome = "still_pending"
)

// ReconcileResult describes what a reconciliation did. Only OutcomeCredited
// moved money.
type ReconcileResult struct {
	Reference     string            `json:"reference"`
	Outcome       ReconcileOutcome  `json:"outcome"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	GatewayStatus string            `json:"gateway_status,omitempty"`
	Balance       decimal.Decimal   `json:"balance"`
}

// WebhookEvent is the gateway push payload. Every field is required.
type WebhookEvent struct {
	Event string            `json:"event"`
	Data  *WebhookEventData `json:"data"`
}

// WebhookEventData carries the charge fields the wallet relies on.
type WebhookEventData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    *int64 `json:"amount"`
	Currency  string `json:"currency,omitempty"`
}

// Validate rejects payloads missing any required field.
func (e *WebhookEvent) Validate() error {
	switch {
	case e.Event == "":
		return &ErrValidation{Field: "event", Message: "required", Code: CodeMalformedPayload}
	case e.Data == nil:
		return &ErrValidation{Field: "data", Message: "required", Code: CodeMalformedPayload}
	case e.Data.Reference == "":
		return &ErrValidation{Field: "data.reference", Message: "required", Code: CodeMalformedPayload}
	case e.Data.Status == "":
		return &ErrValidation{Field: "data.status", Message: "required", Code: CodeMalformedPayload}
	case e.Data.Amount == nil:
		return &ErrValidation{Field: "data.amount", Message: "required", Code: CodeMalformedPayload}
	case *e.Data.Amount <= 0:
		return &ErrValidation{Field: "data.amount", Message: fmt.Sprintf("must be positive, got %d", *e.Data.Amount), Code: CodeMalformedPayload}
	}
	return nil
}
