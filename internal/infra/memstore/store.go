// Package memstore is an in-memory LedgerStore for local development and
// tests. A unit of work holds the store mutex for its whole duration and
// buffers its writes, which are applied only when fn returns nil.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/port"
)

var (
	_ port.LedgerStore = (*Store)(nil)
	_ port.UserStore   = (*Store)(nil)
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	accounts        map[string]domain.Account // by id
	accountByNumber map[string]string
	accountByOwner  map[string]string

	users      map[string]domain.User // by id
	userByName map[string]string
	userByMail map[string]string

	txns     map[string]domain.Transaction // by id
	txnByRef map[string]string
	txnOrder []string

	entries map[string][]domain.LedgerEntry // by account id
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:        make(map[string]domain.Account),
		accountByNumber: make(map[string]string),
		accountByOwner:  make(map[string]string),
		users:           make(map[string]domain.User),
		userByName:      make(map[string]string),
		userByMail:      make(map[string]string),
		txns:            make(map[string]domain.Transaction),
		txnByRef:        make(map[string]string),
		entries:         make(map[string][]domain.LedgerEntry),
	}
}

// WithinTx runs fn with exclusive access to the store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ============================================================
// Accounts
// ============================================================

func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountByNumberLocked(accountNumber)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, accountNotFound(accountID)
	}
	return &acc, nil
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accountByOwner[ownerID]
	if !ok {
		return nil, accountNotFound("owner:" + ownerID)
	}
	acc := s.accounts[id]
	return &acc, nil
}

func (s *Store) GetOwnerName(ctx context.Context, accountNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.accountByNumberLocked(accountNumber)
	if err != nil {
		return "", err
	}
	user, ok := s.users[acc.OwnerID]
	if !ok {
		return "", accountNotFound(accountNumber)
	}
	return user.DisplayName(), nil
}

func (s *Store) accountByNumberLocked(accountNumber string) (*domain.Account, error) {
	id, ok := s.accountByNumber[accountNumber]
	if !ok {
		return nil, accountNotFound(accountNumber)
	}
	acc := s.accounts[id]
	return &acc, nil
}

// ============================================================
// Transactions
// ============================================================

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.txnByRef[reference]
	if !ok {
		return nil, transactionNotFound(reference)
	}
	txn := s.txns[id]
	return &txn, nil
}

func (s *Store) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	return s.WithinTx(ctx, func(tx port.LedgerTx) error {
		return tx.InsertTransaction(ctx, txn)
	})
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for i := len(s.txnOrder) - 1; i >= 0; i-- {
		txn := s.txns[s.txnOrder[i]]
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return window(out, limit, offset), nil
}

func (s *Store) ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for _, id := range s.txnOrder {
		txn := s.txns[id]
		if txn.Status != domain.StatusPending || txn.ExternalReference == "" || !txn.Timestamp.Before(olderThan) {
			continue
		}
		out = append(out, txn)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.userByName[strings.ToLower(username)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: username}
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	return &u, nil
}

func (s *Store) UpdatePin(ctx context.Context, userID, prevDigest, digest, salt string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	if u.PinDigest != prevDigest {
		return false, nil
	}
	u.PinDigest = digest
	u.PinSalt = salt
	u.PinIsSet = true
	s.users[userID] = u
	return true, nil
}

// ============================================================
// Helpers
// ============================================================

func accountNotFound(id string) error {
	return &domain.ErrNotFound{Resource: "account", ID: id, Code: domain.CodeAccountNotFound}
}

func transactionNotFound(ref string) error {
	return &domain.ErrNotFound{Resource: "transaction", ID: ref, Code: domain.CodeTransactionNotFound}
}

func window[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortedUnique(numbers []string) []string {
	seen := make(map[string]struct{}, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
