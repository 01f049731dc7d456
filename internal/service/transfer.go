package service

import (
	"context"
	"errors"
	"fmt"
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

var transferTracer = otel.Tracer("service/transfer")

// TransferService moves funds between two wallets of this system.
type TransferService struct {
	store   port.LedgerStore
	users   port.UserStore
	hasher  port.SecretHasher
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTransferService creates a new transfer service.
func NewTransferService(store port.LedgerStore, users port.UserStore, hasher port.SecretHasher, metrics *observability.Metrics, logger *zap.Logger) *TransferService {
	return &TransferService{
		store:   store,
		users:   users,
		hasher:  hasher,
		metrics: metrics,
		logger:  logger,
	}
}

// ============================================================
// Transfer: POST /v1/accounts/transfer
// ============================================================

// Transfer debits from and credits to in one unit of work. Nothing is
// written unless every precondition holds.
func (s *TransferService) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*domain.TransferReceipt, error) {
	ctx, span := transferTracer.Start(ctx, "TransferService.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.from", from),
		attribute.String("transfer.to", to),
		attribute.String("transfer.amount", amount.String()),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("transfer", time.Since(start)) }()

	receipt, err := s.transfer(ctx, from, to, amount, pin)
	if err != nil {
		result := "error"
		if code, ok := domain.RejectionCode(err); ok {
			result = string(code)
		}
		s.metrics.IncrTransfer(result)
		return nil, err
	}

	s.metrics.IncrTransfer("success")
	return receipt, nil
}

func (s *TransferService) transfer(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*domain.TransferReceipt, error) {
	if !domain.ValidAmount(amount) {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive with at most two decimals", Code: domain.CodeInvalidAmount}
	}
	if from == to {
		return nil, &domain.ErrValidation{Field: "to_account_number", Message: "cannot transfer to the same account", Code: domain.CodeSelfTransfer}
	}

	sender, err := s.resolve(ctx, from)
	if err != nil {
		return nil, err
	}
	if _, err := s.resolve(ctx, to); err != nil {
		return nil, err
	}

	if err := s.checkPin(ctx, sender, pin); err != nil {
		return nil, err
	}

	// Early rejection on the unlocked read; re-checked under lock below.
	if sender.Balance.LessThan(amount) {
		return nil, &domain.ErrInsufficientFunds{Available: sender.Balance, Required: amount}
	}

	var receipt *domain.TransferReceipt
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		locked, err := tx.LockAccounts(ctx, from, to)
		if err != nil {
			return err
		}
		src, dst := locked[from], locked[to]
		if src == nil || dst == nil {
			return &domain.ErrNotFound{Resource: "account", ID: from + "," + to, Code: domain.CodeAccountNotFound}
		}
		if src.Balance.LessThan(amount) {
			return &domain.ErrInsufficientFunds{Available: src.Balance, Required: amount}
		}

		now := time.Now().UTC()
		srcBalance := src.Balance.Sub(amount)
		dstBalance := dst.Balance.Add(amount)

		if err := tx.SetAccountBalance(ctx, src.ID, srcBalance); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, dst.ID, dstBalance); err != nil {
			return err
		}

		debitRef, creditRef := uuid.NewString(), uuid.NewString()
		legs := []struct {
			acc     *domain.Account
			dir     domain.Direction
			balance decimal.Decimal
			desc    string
			ref     string
		}{
			{src, domain.Debit, srcBalance, "Transfer to " + to, debitRef},
			{dst, domain.Credit, dstBalance, "Transfer from " + from, creditRef},
		}
		for _, leg := range legs {
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID:                      uuid.NewString(),
				AccountID:               leg.acc.ID,
				AccountNumber:           leg.acc.AccountNumber,
				Timestamp:               now,
				Amount:                  amount,
				Direction:               leg.dir,
				BalanceAfterTransaction: leg.balance,
				Description:             leg.desc,
				Status:                  domain.StatusSuccess,
				ExternalReference:       leg.ref,
			}); err != nil {
				return err
			}
			if err := tx.AppendLedgerEntry(ctx, &domain.LedgerEntry{
				ID:             uuid.NewString(),
				AccountID:      leg.acc.ID,
				Timestamp:      now,
				Description:    leg.desc,
				Amount:         amount,
				Direction:      leg.dir,
				RunningBalance: leg.balance,
				Reference:      leg.ref,
			}); err != nil {
				return err
			}
		}

		receipt = &domain.TransferReceipt{
			FromAccountNumber: from,
			ToAccountNumber:   to,
			Amount:            amount,
			SenderBalance:     srcBalance,
			DebitReference:    debitRef,
			CreditReference:   creditRef,
			CompletedAt:       now,
		}
		return nil
	})
	if err != nil {
		if !domain.IsBusinessRejection(err) {
			s.logger.Error("transfer rolled back",
				zap.String("from", from),
				zap.String("to", to),
				zap.Error(err),
			)
			return nil, fmt.Errorf("transfer: %w", err)
		}
		code, _ := domain.RejectionCode(err)
		s.logger.Warn("transfer rejected under lock",
			zap.String("from", from),
			zap.String("to", to),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("code", string(code)),
		)
		return nil, err
	}

	s.logger.Info("transfer completed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("debit_reference", receipt.DebitReference),
	)
	return receipt, nil
}

func (s *TransferService) resolve(ctx context.Context, accountNumber string) (*domain.Account, error) {
	if !domain.ValidAccountNumber(accountNumber) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountNumber, Code: domain.CodeAccountNotFound}
	}
	return s.store.GetAccountByNumber(ctx, accountNumber)
}

// checkPin verifies the sender's transaction PIN. An unset PIN never matches.
func (s *TransferService) checkPin(ctx context.Context, sender *domain.Account, pin string) error {
	user, err := s.users.GetUserByID(ctx, sender.OwnerID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return &domain.ErrNotFound{Resource: "account", ID: sender.AccountNumber, Code: domain.CodeAccountNotFound}
		}
		return err
	}

	if user.PinIsSet && s.hasher.VerifySecret(pin, user.PinDigest, user.PinSalt) {
		return nil
	}

	s.metrics.IncrSecurityRejection(string(domain.CodeInvalidPin))
	s.logger.Warn("transfer rejected: invalid pin",
		zap.Bool("security_event", true),
		zap.String("account_number", sender.AccountNumber),
		zap.Bool("pin_is_set", user.PinIsSet),
	)
	return &domain.ErrUnauthorized{Message: "invalid transaction pin", Code: domain.CodeInvalidPin}
}
