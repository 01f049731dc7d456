package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// pgTx implements port.LedgerTx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// LockAccounts takes FOR UPDATE locks one row at a time in ascending
// account-number order so two transfers over the same pair cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, accountNumbers ...string) (map[string]*domain.Account, error) {
	numbers := append([]string(nil), accountNumbers...)
	sort.Strings(numbers)

	out := make(map[string]*domain.Account, len(numbers))
	for _, n := range numbers {
		if _, done := out[n]; done {
			continue
		}
		acc, err := getAccount(ctx, t.tx, "account_number = $1 FOR UPDATE", n)
		if err != nil {
			return nil, err
		}
		out[n] = acc
	}
	return out, nil
}

func (t *pgTx) LockAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return getAccount(ctx, t.tx, "id = $1 FOR UPDATE", accountID)
}

func (t *pgTx) LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1 FOR UPDATE`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: reference, Code: domain.CodeTransactionNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	return txn, nil
}

func (t *pgTx) SetAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2::numeric WHERE id = $1`, accountID, balance.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: accountID, Code: domain.CodeAccountNotFound}
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	return insertTransaction(ctx, t.tx, txn)
}

// SettleTransaction is a compare-and-set on status = 'pending'.
func (t *pgTx) SettleTransaction(ctx context.Context, transactionID string, status domain.TransactionStatus, balanceAfter decimal.Decimal) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, balance_after = $3::numeric
		WHERE id = $1 AND status = 'pending'`,
		transactionID, string(status), balanceAfter.String())
	if err != nil {
		return false, fmt.Errorf("settle transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, account_id, created_at, description, amount, direction, running_balance, reference)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8)`,
		e.ID, e.AccountID, e.Timestamp, e.Description, e.Amount.String(), string(e.Direction),
		e.RunningBalance.String(), e.Reference)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) ListLedgerEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, account_id, created_at, description, amount::text, direction, running_balance::text, reference
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Timestamp, &e.Description, &e.Amount,
			&e.Direction, &e.RunningBalance, &e.Reference); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertAccount relies on the unique account_number constraint: a taken
// number inserts nothing and reports false.
func (t *pgTx) InsertAccount(ctx context.Context, acc *domain.Account) (bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO accounts (id, account_number, balance, currency, owner_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (account_number) DO NOTHING
		RETURNING id`,
		acc.ID, acc.AccountNumber, acc.Balance.String(), acc.Currency, acc.OwnerID, acc.CreatedAt).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case isUniqueViolation(err) && constraintName(err) == "accounts_owner_id_key":
		return false, &domain.ErrConflict{Message: "owner already has an account: " + acc.OwnerID, Code: domain.CodeDuplicateOwner}
	case err != nil:
		return false, fmt.Errorf("insert account: %w", err)
	}
	return true, nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users
			(id, username, email, first_name, last_name, password_digest, password_salt,
			 pin_digest, pin_salt, pin_is_set, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordDigest, u.PasswordSalt,
		u.PinDigest, u.PinSalt, u.PinIsSet, u.CreatedAt)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "username or email already registered", Code: domain.CodeDuplicateUser}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
