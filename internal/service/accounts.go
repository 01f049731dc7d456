// Package service provides the business logic layer (use cases) of the
// wallet: account registry, transfers, gateway top-ups, auth and audit.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/observability"
	"github.com/boddenberg/wallet-ledger-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var accountTracer = otel.Tracer("service/accounts")

const (
	// accountNumberPrefix is the fixed non-zero head of every account number.
	accountNumberPrefix = "200"
	// maxAccountNumberAttempts bounds the draws before giving up.
	maxAccountNumberAttempts = 10

	ownerNameCache = "owner_name"

	defaultPageSize = 20
	maxPageSize     = 100
)

// AccountService is the account registry: it allocates account numbers,
// resolves accounts and serves balance and history reads.
type AccountService struct {
	store      port.LedgerStore
	names      port.Cache[string]
	metrics    *observability.Metrics
	logger     *zap.Logger
	nextNumber func() string
}

// NewAccountService creates a new account service.
func NewAccountService(store port.LedgerStore, names port.Cache[string], metrics *observability.Metrics, logger *zap.Logger) *AccountService {
	return &AccountService{
		store:      store,
		names:      names,
		metrics:    metrics,
		logger:     logger,
		nextNumber: randomAccountNumber,
	}
}

// WithNumberSource replaces the account-number generator.
func (s *AccountService) WithNumberSource(next func() string) *AccountService {
	s.nextNumber = next
	return s
}

// randomAccountNumber draws "200" followed by seven digits, 1000000-9999999.
func randomAccountNumber() string {
	return accountNumberPrefix + strconv.Itoa(1_000_000+rand.IntN(9_000_000))
}

// ============================================================
// Create
// ============================================================

// CreateAccount opens a zero-balance account for ownerID in its own unit of work.
func (s *AccountService) CreateAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	ctx, span := accountTracer.Start(ctx, "AccountService.CreateAccount")
	defer span.End()

	var acc *domain.Account
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		var err error
		acc, err = s.CreateAccountTx(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// CreateAccountTx opens the account inside the caller's unit of work. The
// store's unique constraint decides collisions; a taken number is redrawn.
func (s *AccountService) CreateAccountTx(ctx context.Context, tx port.LedgerTx, ownerID string) (*domain.Account, error) {
	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		acc := &domain.Account{
			ID:            uuid.NewString(),
			AccountNumber: s.nextNumber(),
			Balance:       decimal.Zero,
			Currency:      domain.DefaultCurrency,
			OwnerID:       ownerID,
			CreatedAt:     time.Now().UTC(),
		}

		inserted, err := tx.InsertAccount(ctx, acc)
		if err != nil {
			return nil, err
		}
		if inserted {
			s.logger.Info("account created",
				zap.String("account_id", acc.ID),
				zap.String("account_number", acc.AccountNumber),
				zap.String("owner_id", ownerID),
				zap.Int("attempt", attempt),
			)
			return acc, nil
		}

		s.logger.Debug("account number collision, redrawing",
			zap.String("account_number", acc.AccountNumber),
			zap.Int("attempt", attempt),
		)
	}

	s.logger.Error("account number space exhausted", zap.String("owner_id", ownerID))
	return nil, &domain.ErrConflict{
		Message: fmt.Sprintf("no free account number after %d attempts", maxAccountNumberAttempts),
		Code:    domain.CodeAccountNumberExhaust,
	}
}

// ============================================================
// Resolve
// ============================================================

// ResolveByNumber returns the account or an account_not_found error.
func (s *AccountService) ResolveByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	ctx, span := accountTracer.Start(ctx, "AccountService.ResolveByNumber")
	defer span.End()
	span.SetAttributes(attribute.String("account.number", accountNumber))

	if !domain.ValidAccountNumber(accountNumber) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountNumber, Code: domain.CodeAccountNotFound}
	}
	return s.store.GetAccountByNumber(ctx, accountNumber)
}

// ResolveOwnerName returns the payee display name shown before a transfer.
func (s *AccountService) ResolveOwnerName(ctx context.Context, accountNumber string) (string, error) {
	ctx, span := accountTracer.Start(ctx, "AccountService.ResolveOwnerName")
	defer span.End()

	if !domain.ValidAccountNumber(accountNumber) {
		return "", &domain.ErrNotFound{Resource: "account", ID: accountNumber, Code: domain.CodeAccountNotFound}
	}

	if name, ok := s.names.Get(accountNumber); ok {
		s.metrics.IncrCacheHit(ownerNameCache)
		return name, nil
	}
	s.metrics.IncrCacheMiss(ownerNameCache)

	name, err := s.store.GetOwnerName(ctx, accountNumber)
	if err != nil {
		return "", err
	}
	s.names.Set(accountNumber, name)
	return name, nil
}

// ============================================================
// Reads
// ============================================================

// Balance returns the owner's account with its current balance.
func (s *AccountService) Balance(ctx context.Context, ownerID string) (*domain.BalanceResponse, error) {
	ctx, span := accountTracer.Start(ctx, "AccountService.Balance")
	defer span.End()

	acc, err := s.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceResponse{
		AccountNumber: acc.AccountNumber,
		Balance:       acc.Balance,
		Currency:      acc.Currency,
	}, nil
}

// History returns the owner's transactions, newest first.
func (s *AccountService) History(ctx context.Context, ownerID string, page, pageSize int) (*domain.ListResponse[domain.Transaction], error) {
	ctx, span := accountTracer.Start(ctx, "AccountService.History")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	acc, err := s.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// One extra row tells us whether another page exists.
	txns, err := s.store.ListTransactions(ctx, acc.ID, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	hasMore := len(txns) > pageSize
	if hasMore {
		txns = txns[:pageSize]
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	return &domain.ListResponse[domain.Transaction]{
		Data:     txns,
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	}, nil
}
