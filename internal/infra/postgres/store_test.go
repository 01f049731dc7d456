package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/wallet-ledger-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests need a disposable database:
//
//	WALLET_TEST_DATABASE_URL=postgres://localhost/wallet_test go test ./internal/infra/postgres/
func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("WALLET_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WALLET_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := postgres.Connect(ctx, postgres.Config{DatabaseURL: url, MaxConns: 20}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedAccount(t *testing.T, s *postgres.Store, balance decimal.Decimal) *domain.Account {
	t.Helper()
	ctx := context.Background()
	owner := uuid.NewString()

	acc := &domain.Account{
		ID:            uuid.NewString(),
		AccountNumber: fmt.Sprintf("9%09d", rand.IntN(1_000_000_000)),
		OwnerID:       owner,
		Currency:      domain.DefaultCurrency,
	}
	err := s.WithinTx(ctx, func(tx port.LedgerTx) error {
		if err := tx.InsertUser(ctx, &domain.User{
			ID: owner, Username: "pg-" + owner, Email: owner + "@example.com",
			PasswordDigest: "x", PasswordSalt: "x",
		}); err != nil {
			return err
		}
		ok, err := tx.InsertAccount(ctx, acc)
		if err != nil {
			return err
		}
		require.True(t, ok, "account number collision")
		if balance.IsPositive() {
			if err := tx.SetAccountBalance(ctx, acc.ID, balance); err != nil {
				return err
			}
			return tx.AppendLedgerEntry(ctx, &domain.LedgerEntry{
				ID: uuid.NewString(), AccountID: acc.ID, Timestamp: time.Now().UTC(),
				Description: "seed", Amount: balance, Direction: domain.Credit,
				RunningBalance: balance, Reference: uuid.NewString(),
			})
		}
		return nil
	})
	require.NoError(t, err)
	acc.Balance = balance
	return acc
}

func TestInsertAccount_NumberCollisionReportsFalse(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	existing := seedAccount(t, s, decimal.Zero)

	owner := uuid.NewString()
	err := s.WithinTx(ctx, func(tx port.LedgerTx) error {
		require.NoError(t, tx.InsertUser(ctx, &domain.User{
			ID: owner, Username: "pg-" + owner, Email: owner + "@example.com",
			PasswordDigest: "x", PasswordSalt: "x",
		}))
		ok, err := tx.InsertAccount(ctx, &domain.Account{
			ID: uuid.NewString(), AccountNumber: existing.AccountNumber, OwnerID: owner, Currency: domain.DefaultCurrency,
		})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertUser_DuplicateUsernameIsConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	name := "pg-dup-" + uuid.NewString()

	insert := func() error {
		return s.WithinTx(ctx, func(tx port.LedgerTx) error {
			id := uuid.NewString()
			return tx.InsertUser(ctx, &domain.User{
				ID: id, Username: name, Email: id + "@example.com", PasswordDigest: "x", PasswordSalt: "x",
			})
		})
	}
	require.NoError(t, insert())

	var conflict *domain.ErrConflict
	err := insert()
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, domain.CodeDuplicateUser, conflict.Code)
}

func TestSettleTransaction_OnlyOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, decimal.Zero)

	ref := uuid.NewString()
	txn := &domain.Transaction{
		ID: uuid.NewString(), AccountID: acc.ID, AccountNumber: acc.AccountNumber,
		Timestamp: time.Now().UTC(), Amount: decimal.NewFromInt(10), Direction: domain.Credit,
		Description: domain.TopUpDescription, Status: domain.StatusPending, ExternalReference: ref,
	}
	require.NoError(t, s.InsertTransaction(ctx, txn))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(tx port.LedgerTx) error {
				locked, err := tx.LockTransactionByReference(ctx, ref)
				if err != nil {
					return err
				}
				ok, err := tx.SettleTransaction(ctx, locked.ID, domain.StatusSuccess, decimal.NewFromInt(10))
				if err != nil || !ok {
					return err
				}
				mu.Lock()
				settled++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	got, err := s.GetTransactionByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestLockAccounts_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	from := seedAccount(t, s, decimal.NewFromInt(50))
	to := seedAccount(t, s, decimal.Zero)

	one := decimal.NewFromInt(1)
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate lock order to exercise deadlock avoidance.
			numbers := []string{from.AccountNumber, to.AccountNumber}
			if i%2 == 1 {
				numbers[0], numbers[1] = numbers[1], numbers[0]
			}
			_ = s.WithinTx(ctx, func(tx port.LedgerTx) error {
				locked, err := tx.LockAccounts(ctx, numbers...)
				if err != nil {
					return err
				}
				src, dst := locked[from.AccountNumber], locked[to.AccountNumber]
				if src.Balance.LessThan(one) {
					return &domain.ErrInsufficientFunds{Available: src.Balance, Required: one}
				}
				if err := tx.SetAccountBalance(ctx, src.ID, src.Balance.Sub(one)); err != nil {
					return err
				}
				return tx.SetAccountBalance(ctx, dst.ID, dst.Balance.Add(one))
			})
		}(i)
	}
	wg.Wait()

	src, err := s.GetAccountByID(ctx, from.ID)
	require.NoError(t, err)
	dst, err := s.GetAccountByID(ctx, to.ID)
	require.NoError(t, err)

	assert.True(t, src.Balance.IsZero(), "from balance %s", src.Balance)
	assert.True(t, decimal.NewFromInt(50).Equal(dst.Balance), "to balance %s", dst.Balance)
}

func TestListTransactions_Windowed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, decimal.Zero)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.InsertTransaction(ctx, &domain.Transaction{
			ID: uuid.NewString(), AccountID: acc.ID, AccountNumber: acc.AccountNumber,
			Timestamp: base.Add(time.Duration(i) * time.Minute), Amount: decimal.NewFromInt(int64(i)),
			Direction: domain.Credit, Description: "seed", Status: domain.StatusSuccess,
		}))
	}

	page, err := s.ListTransactions(ctx, acc.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, decimal.NewFromInt(4).Equal(page[0].Amount))
	assert.True(t, decimal.NewFromInt(3).Equal(page[1].Amount))
}
