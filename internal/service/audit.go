package service

import (
	"context"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var auditTracer = otel.Tracer("service/audit")

// AuditService replays the ledger journal against stored balances.
type AuditService struct {
	store  port.LedgerStore
	logger *zap.Logger
}

// NewAuditService creates a new audit service.
func NewAuditService(store port.LedgerStore, logger *zap.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// VerifyAccount replays every ledger entry of the account under its row
// lock. The account is consistent when each running balance matches the
// replayed sum and the final sum equals the stored balance.
func (s *AuditService) VerifyAccount(ctx context.Context, accountID string) (*domain.LedgerAudit, error) {
	ctx, span := auditTracer.Start(ctx, "AuditService.VerifyAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var audit *domain.LedgerAudit
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		acc, err := tx.LockAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := tx.ListLedgerEntries(ctx, accountID)
		if err != nil {
			return err
		}
		audit = replay(acc, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !audit.Consistent {
		s.logger.Error("ledger drift detected",
			zap.String("account_id", accountID),
			zap.String("replayed_total", audit.ReplayedTotal.StringFixed(2)),
			zap.String("account_balance", audit.AccountBalance.StringFixed(2)),
			zap.String("first_drift_entry_id", audit.FirstDriftAt),
		)
	}
	return audit, nil
}

func replay(acc *domain.Account, entries []domain.LedgerEntry) *domain.LedgerAudit {
	audit := &domain.LedgerAudit{
		AccountID:      acc.ID,
		Entries:        len(entries),
		AccountBalance: acc.Balance,
		Consistent:     true,
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Direction.Signed(e.Amount))
		if audit.Consistent && !total.Equal(e.RunningBalance) {
			audit.Consistent = false
			audit.FirstDriftAt = e.ID
		}
	}
	audit.ReplayedTotal = total
	if !total.Equal(acc.Balance) {
		audit.Consistent = false
	}
	return audit
}
