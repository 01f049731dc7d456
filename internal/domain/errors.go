package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the wallet.
// Business rejections carry a Code so callers can branch without
// string matching.

// Code identifies a business rejection.
type Code string

const (
	CodeInvalidAmount        Code = "invalid_amount"
	CodeSelfTransfer         Code = "self_transfer_rejected"
	CodeAccountNotFound      Code = "account_not_found"
	CodeTransactionNotFound  Code = "transaction_not_found"
	CodeInvalidPin           Code = "invalid_pin"
	CodeInsufficientBalance  Code = "insufficient_balance"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeSourceNotAllowed     Code = "source_not_allowed"
	CodeInvalidCredentials   Code = "invalid_credentials"
	CodeDuplicateOwner       Code = "duplicate_owner"
	CodeDuplicateUser        Code = "duplicate_user"
	CodeAccountNumberExhaust Code = "account_number_exhausted"
	CodeMalformedPayload     Code = "malformed_payload"
	CodePinChanged           Code = "pin_changed_concurrently"
)

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
	Code     Code
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
	Code    Code
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%s required=%s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// ErrUnauthorized indicates invalid credentials, PIN or signature.
type ErrUnauthorized struct {
	Message string
	Code    Code
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a uniqueness violation or a lost update.
type ErrConflict struct {
	Message string
	Code    Code
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// RejectionCode extracts the business rejection code from err, if any.
func RejectionCode(err error) (Code, bool) {
	var (
		notFound     *ErrNotFound
		validation   *ErrValidation
		unauthorized *ErrUnauthorized
		conflict     *ErrConflict
		insufficient *ErrInsufficientFunds
	)
	switch {
	case errors.As(err, &validation):
		return validation.Code, validation.Code != ""
	case errors.As(err, &unauthorized):
		return unauthorized.Code, unauthorized.Code != ""
	case errors.As(err, &notFound):
		return notFound.Code, notFound.Code != ""
	case errors.As(err, &conflict):
		return conflict.Code, conflict.Code != ""
	case errors.As(err, &insufficient):
		return CodeInsufficientBalance, true
	}
	return "", false
}

// IsBusinessRejection reports whether err is a caller-facing rejection
// rather than an infrastructure failure.
func IsBusinessRejection(err error) bool {
	_, ok := RejectionCode(err)
	return ok
}
