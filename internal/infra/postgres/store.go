// Package postgres implements the ledger store on PostgreSQL via pgx.
// Balance-mutating units of work run at READ COMMITTED and serialize on
// SELECT ... FOR UPDATE row locks taken in account-number order.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/postgres")

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

var (
	_ port.LedgerStore = (*Store)(nil)
	_ port.UserStore   = (*Store)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds pool settings.
type Config struct {
	DatabaseURL string
	MaxConns    int32
}

// Store is the pgx-backed LedgerStore and UserStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx runs fn inside one database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	ctx, span := tracer.Start(ctx, "Store.WithinTx")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ============================================================
// Accounts
// ============================================================

const accountColumns = `id, account_number, balance::text, currency, owner_id, created_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	if err := row.Scan(&acc.ID, &acc.AccountNumber, &acc.Balance, &acc.Currency, &acc.OwnerID, &acc.CreatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func getAccount(ctx context.Context, q querier, where, id string) (*domain.Account, error) {
	acc, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: id, Code: domain.CodeAccountNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return getAccount(ctx, s.pool, "account_number = $1", accountNumber)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return getAccount(ctx, s.pool, "id = $1", accountID)
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (*domain.Account, error) {
	return getAccount(ctx, s.pool, "owner_id = $1", ownerID)
}

func (s *Store) GetOwnerName(ctx context.Context, accountNumber string) (string, error) {
	var first, last string
	err := s.pool.QueryRow(ctx, `
		SELECT u.first_name, u.last_name
		FROM accounts a
		JOIN users u ON u.id = a.owner_id
		WHERE a.account_number = $1`, accountNumber).Scan(&first, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &domain.ErrNotFound{Resource: "account", ID: accountNumber, Code: domain.CodeAccountNotFound}
	}
	if err != nil {
		return "", fmt.Errorf("get owner name: %w", err)
	}
	u := domain.User{FirstName: first, LastName: last}
	return u.DisplayName(), nil
}

// ============================================================
// Transactions
// ============================================================

const transactionColumns = `id, account_id, account_number, created_at, amount::text, direction,
	balance_after::text, description, status, COALESCE(external_reference, '')`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.AccountNumber, &t.Timestamp, &t.Amount, &t.Direction,
		&t.BalanceAfterTransaction, &t.Description, &t.Status, &t.ExternalReference)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: reference, Code: domain.CodeTransactionNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *Store) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	return insertTransaction(ctx, s.pool, txn)
}

func insertTransaction(ctx context.Context, q querier, txn *domain.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions
			(id, account_id, account_number, created_at, amount, direction,
			 balance_after, description, status, external_reference)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9, $10)`,
		txn.ID, txn.AccountID, txn.AccountNumber, txn.Timestamp, txn.Amount.String(), string(txn.Direction),
		txn.BalanceAfterTransaction.String(), txn.Description, string(txn.Status), nullable(txn.ExternalReference))
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "transaction already exists: " + txn.ExternalReference}
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Store.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *Store) ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending' AND external_reference IS NOT NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ============================================================
// Users
// ============================================================

const userColumns = `id, username, email, first_name, last_name, password_digest, password_salt,
	pin_digest, pin_salt, pin_is_set, created_at`

func (s *Store) getUser(ctx context.Context, where, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordDigest, &u.PasswordSalt,
		&u.PinDigest, &u.PinSalt, &u.PinIsSet, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, "lower(username) = lower($1)", username)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, "id = $1", userID)
}

func (s *Store) UpdatePin(ctx context.Context, userID, prevDigest, digest, salt string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET pin_digest = $2, pin_salt = $3, pin_is_set = TRUE
		 WHERE id = $1 AND pin_digest = $4`,
		userID, digest, salt, prevDigest)
	if err != nil {
		return false, fmt.Errorf("update pin: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Tell a missing user apart from a lost race.
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// ============================================================
// Helpers
// ============================================================

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
