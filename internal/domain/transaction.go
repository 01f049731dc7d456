package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a balance movement.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Signed returns amount with the sign this direction applies to a balance.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == Debit {
		return amount.Neg()
	}
	return amount
}

// TransactionStatus moves Pending -> Success|Failed and never again.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is the customer-facing record of one balance movement.
// ExternalReference is unique when set; gateway top-ups use it as the
// idempotency key.
type Transaction struct {
	ID                      string            `json:"id"`
	AccountID               string            `json:"account_id"`
	AccountNumber           string            `json:"account_number"`
	Timestamp               time.Time         `json:"timestamp"`
	Amount                  decimal.Decimal   `json:"amount"`
	Direction               Direction         `json:"direction"`
	BalanceAfterTransaction decimal.Decimal   `json:"balance_after_transaction"`
	Description             string            `json:"description"`
	Status                  TransactionStatus `json:"status"`
	ExternalReference       string            `json:"external_reference,omitempty"`
}

// LedgerEntry is one append-only journal row. RunningBalance is the
// account balance after this entry is applied.
type LedgerEntry struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      Direction       `json:"direction"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	Reference      string          `json:"reference"`
}

// TransferReceipt is returned by a committed internal transfer.
type TransferReceipt struct {
	FromAccountNumber string          `json:"from_account_number"`
	ToAccountNumber   string          `json:"to_account_number"`
	Amount            decimal.Decimal `json:"amount"`
	SenderBalance     decimal.Decimal `json:"sender_balance"`
	DebitReference    string          `json:"debit_reference"`
	CreditReference   string          `json:"credit_reference"`
	CompletedAt       time.Time       `json:"completed_at"`
}

// LedgerAudit is the result of replaying an account's journal.
type LedgerAudit struct {
	AccountID      string          `json:"account_id"`
	Entries        int             `json:"entries"`
	ReplayedTotal  decimal.Decimal `json:"replayed_total"`
	AccountBalance decimal.Decimal `json:"account_balance"`
	Consistent     bool            `json:"consistent"`
	FirstDriftAt   string          `json:"first_drift_entry_id,omitempty"`
}
