package domain

import "github.com/shopspring/decimal"

// ============================================================
// Auth: request / response types
// ============================================================

// RegisterRequest is the body for POST /v1/auth/register.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RegisterResponse is the body for 201 from POST /v1/auth/register.
type RegisterResponse struct {
	UserID        string `json:"user_id"`
	AccountNumber string `json:"account_number"`
	Message       string `json:"message"`
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body for 200 from POST /v1/auth/login.
type LoginResponse struct {
	AccessToken   string          `json:"access_token"`
	ExpiresIn     int             `json:"expires_in"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	PinIsSet      bool            `json:"pin_is_set"`
}

// SetPinRequest is the body for PUT /v1/users/pin. CurrentPin is only
// required once a PIN has been set.
type SetPinRequest struct {
	CurrentPin string `json:"current_pin,omitempty"`
	NewPin     string `json:"new_pin"`
}

// ============================================================
// Wallet operations: request / response types
// ============================================================

// TransferRequest is the body for POST /v1/accounts/transfer.
type TransferRequest struct {
	ToAccountNumber string          `json:"to_account_number"`
	Amount          decimal.Decimal `json:"amount"`
	Pin             string          `json:"pin"`
}

// InitializePaymentRequest is the body for POST /v1/payments/initialize.
type InitializePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AccountNameResponse answers payee confirmation lookups.
type AccountNameResponse struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// BalanceResponse is returned by GET /v1/accounts/balance.
type BalanceResponse struct {
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
}
