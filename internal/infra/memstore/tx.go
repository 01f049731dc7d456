package memstore

import (
	"context"
	"strings"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
)

// memTx stages writes on top of the store. Reads see staged values first.
type memTx struct {
	s *Store

	accounts      map[string]domain.Account
	stagedNumbers map[string]string
	stagedOwners  map[string]string

	users       map[string]domain.User
	stagedNames map[string]string
	stagedMails map[string]string

	txns       map[string]domain.Transaction
	stagedRefs map[string]string
	newTxns    []string

	entries []domain.LedgerEntry
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:             s,
		accounts:      make(map[string]domain.Account),
		stagedNumbers: make(map[string]string),
		stagedOwners:  make(map[string]string),
		users:         make(map[string]domain.User),
		stagedNames:   make(map[string]string),
		stagedMails:   make(map[string]string),
		txns:          make(map[string]domain.Transaction),
		stagedRefs:    make(map[string]string),
	}
}

func (t *memTx) commit() {
	s := t.s
	for id, acc := range t.accounts {
		s.accounts[id] = acc
		s.accountByNumber[acc.AccountNumber] = id
		s.accountByOwner[acc.OwnerID] = id
	}
	for id, u := range t.users {
		s.users[id] = u
		s.userByName[strings.ToLower(u.Username)] = id
		s.userByMail[strings.ToLower(u.Email)] = id
	}
	for _, id := range t.newTxns {
		s.txnOrder = append(s.txnOrder, id)
	}
	for id, txn := range t.txns {
		s.txns[id] = txn
		if txn.ExternalReference != "" {
			s.txnByRef[txn.ExternalReference] = id
		}
	}
	for _, e := range t.entries {
		s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
	}
}

// ============================================================
// Reads
// ============================================================

func (t *memTx) account(id string) (domain.Account, bool) {
	if acc, ok := t.accounts[id]; ok {
		return acc, true
	}
	acc, ok := t.s.accounts[id]
	return acc, ok
}

func (t *memTx) accountIDByNumber(number string) (string, bool) {
	if id, ok := t.stagedNumbers[number]; ok {
		return id, true
	}
	id, ok := t.s.accountByNumber[number]
	return id, ok
}

func (t *memTx) transaction(id string) (domain.Transaction, bool) {
	if txn, ok := t.txns[id]; ok {
		return txn, true
	}
	txn, ok := t.s.txns[id]
	return txn, ok
}

func (t *memTx) transactionIDByRef(ref string) (string, bool) {
	if id, ok := t.stagedRefs[ref]; ok {
		return id, true
	}
	id, ok := t.s.txnByRef[ref]
	return id, ok
}

// LockAccounts returns the accounts keyed by number. The store mutex is
// already held, so ordering only matters for the error reported.
func (t *memTx) LockAccounts(ctx context.Context, accountNumbers ...string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(accountNumbers))
	for _, n := range sortedUnique(accountNumbers) {
		id, ok := t.accountIDByNumber(n)
		if !ok {
			return nil, accountNotFound(n)
		}
		acc, _ := t.account(id)
		out[n] = &acc
	}
	return out, nil
}

func (t *memTx) LockAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	acc, ok := t.account(accountID)
	if !ok {
		return nil, accountNotFound(accountID)
	}
	return &acc, nil
}

func (t *memTx) LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	id, ok := t.transactionIDByRef(reference)
	if !ok {
		return nil, transactionNotFound(reference)
	}
	txn, _ := t.transaction(id)
	return &txn, nil
}

func (t *memTx) ListLedgerEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	base := t.s.entries[accountID]
	out := make([]domain.LedgerEntry, 0, len(base))
	out = append(out, base...)
	for _, e := range t.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ============================================================
// Writes
// ============================================================

func (t *memTx) SetAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	acc, ok := t.account(accountID)
	if !ok {
		return accountNotFound(accountID)
	}
	acc.Balance = balance
	t.accounts[accountID] = acc
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	if _, exists := t.transaction(txn.ID); exists {
		return &domain.ErrConflict{Message: "transaction id already exists: " + txn.ID}
	}
	if txn.ExternalReference != "" {
		if _, exists := t.transactionIDByRef(txn.ExternalReference); exists {
			return &domain.ErrConflict{Message: "external reference already exists: " + txn.ExternalReference}
		}
		t.stagedRefs[txn.ExternalReference] = txn.ID
	}
	t.txns[txn.ID] = *txn
	t.newTxns = append(t.newTxns, txn.ID)
	return nil
}

func (t *memTx) SettleTransaction(ctx context.Context, transactionID string, status domain.TransactionStatus, balanceAfter decimal.Decimal) (bool, error) {
	txn, ok := t.transaction(transactionID)
	if !ok {
		return false, transactionNotFound(transactionID)
	}
	if txn.Status != domain.StatusPending {
		return false, nil
	}
	txn.Status = status
	txn.BalanceAfterTransaction = balanceAfter
	t.txns[transactionID] = txn
	return true, nil
}

func (t *memTx) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	if _, ok := t.account(entry.AccountID); !ok {
		return accountNotFound(entry.AccountID)
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memTx) InsertAccount(ctx context.Context, account *domain.Account) (bool, error) {
	if _, taken := t.accountIDByNumber(account.AccountNumber); taken {
		return false, nil
	}
	_, staged := t.stagedOwners[account.OwnerID]
	_, stored := t.s.accountByOwner[account.OwnerID]
	if staged || stored {
		return false, &domain.ErrConflict{
			Message: "owner already has an account: " + account.OwnerID,
			Code:    domain.CodeDuplicateOwner,
		}
	}
	t.accounts[account.ID] = *account
	t.stagedNumbers[account.AccountNumber] = account.ID
	t.stagedOwners[account.OwnerID] = account.ID
	return true, nil
}

func (t *memTx) InsertUser(ctx context.Context, user *domain.User) error {
	name := strings.ToLower(user.Username)
	mail := strings.ToLower(user.Email)
	_, nameStaged := t.stagedNames[name]
	_, nameStored := t.s.userByName[name]
	_, mailStaged := t.stagedMails[mail]
	_, mailStored := t.s.userByMail[mail]
	if nameStaged || nameStored || mailStaged || mailStored {
		return &domain.ErrConflict{Message: "username or email already registered", Code: domain.CodeDuplicateUser}
	}
	t.users[user.ID] = *user
	t.stagedNames[name] = user.ID
	t.stagedMails[mail] = user.ID
	return nil
}
