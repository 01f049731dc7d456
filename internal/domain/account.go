package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// DefaultCurrency is the single currency every wallet is held in.
const DefaultCurrency = "NGN"

// AccountNumberLength is the fixed length of a wallet account number.
const AccountNumberLength = 10

// Account is a custodial wallet owned by exactly one user.
type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	OwnerID       string          `json:"owner_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ValidAccountNumber reports whether s is exactly ten ASCII digits.
func ValidAccountNumber(s string) bool {
	if len(s) != AccountNumberLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ============================================================
// Users
// ============================================================

// User owns one account. Secrets are stored as salted digests only.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	PasswordDigest string    `json:"-"`
	PasswordSalt   string    `json:"-"`
	PinDigest      string    `json:"-"`
	PinSalt        string    `json:"-"`
	PinIsSet       bool      `json:"pin_is_set"`
	CreatedAt      time.Time `json:"created_at"`
}

// DisplayName is the payee name shown before a transfer is confirmed.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
