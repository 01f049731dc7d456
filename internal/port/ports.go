// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LedgerStore is the authoritative record of accounts, transactions and
// ledger entries. Lookups that find nothing return *domain.ErrNotFound.
//
// Balance-mutating work must go through WithinTx. Implementations must not
// be re-entered from inside fn: use the LedgerTx handed to it instead.
type LedgerStore interface {
	// WithinTx runs fn in one atomic, isolated unit of work. If fn returns
	// an error nothing it wrote is persisted.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	Ping(ctx context.Context) error

	GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (*domain.Account, error)
	// GetOwnerName returns the display name of the account's owner.
	GetOwnerName(ctx context.Context, accountNumber string) (string, error)

	GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	// InsertTransaction persists a standalone record, e.g. a pending top-up.
	// A duplicate external reference returns *domain.ErrConflict.
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	// ListTransactions returns an account's transactions, newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error)
	// ListPendingTransactions returns Pending gateway top-ups created before
	// olderThan, oldest first.
	ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
}

// LedgerTx is the set of operations available inside one unit of work.
// Locks taken here are held until the unit commits or rolls back.
type LedgerTx interface {
	// LockAccounts locks the accounts in ascending account-number order,
	// whatever order the numbers are passed in.
	LockAccounts(ctx context.Context, accountNumbers ...string) (map[string]*domain.Account, error)
	LockAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	SetAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	// SettleTransaction moves a Pending transaction to status. It reports
	// false, and changes nothing, if the transaction was no longer Pending.
	SettleTransaction(ctx context.Context, transactionID string, status domain.TransactionStatus, balanceAfter decimal.Decimal) (bool, error)
	AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	// ListLedgerEntries returns the account's journal in application order.
	ListLedgerEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)

	// InsertAccount reports false when the account number is already taken.
	// An owner that already has an account yields *domain.ErrConflict.
	InsertAccount(ctx context.Context, account *domain.Account) (bool, error)
	// InsertUser yields *domain.ErrConflict on a duplicate username or email.
	InsertUser(ctx context.Context, user *domain.User) error
}

// UserStore reads and updates wallet owners.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	// UpdatePin stores the new PIN only if the current digest still equals
	// prevDigest ("" for a user without a PIN). False means it did not.
	UpdatePin(ctx context.Context, userID, prevDigest, digest, salt string) (bool, error)
}

// PaymentGateway is the external card-payment provider. Amounts cross this
// boundary in minor units.
type PaymentGateway interface {
	Initialize(ctx context.Context, amountMinor int64, email, reference string) (checkoutURL string, err error)
	Verify(ctx context.Context, reference string) (*domain.GatewayVerification, error)
	SignatureValid(rawBody []byte, signature string) bool
}

// SecretHasher hashes and verifies passwords and PINs.
type SecretHasher interface {
	HashSecret(plaintext string) (digest, salt string, err error)
	VerifySecret(plaintext, digest, salt string) bool
}
