package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
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

var paymentTracer = otel.Tracer("service/payments")

// Reconcile sources, used for metrics and logs.
const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
	SourceSweep   = "sweep"
)

// PaymentsConfig is injected at construction.
type PaymentsConfig struct {
	// AllowedIPs restricts webhook callers when non-empty.
	AllowedIPs []string
	// GatewayTimeout bounds each gateway call.
	GatewayTimeout time.Duration
}

// ReconcileRequest describes one attempt to settle a pending top-up.
type ReconcileRequest struct {
	Reference string
	// ClaimedAmount is the amount the caller says was paid, if any.
	ClaimedAmount *decimal.Decimal
	// EventKind is only checked for webhook deliveries.
	EventKind string
	Source    string
}

// PaymentService drives gateway-funded top-ups from initialization to a
// settled ledger credit.
type PaymentService struct {
	store      port.LedgerStore
	gateway    port.PaymentGateway
	cfg        PaymentsConfig
	allowedIPs map[string]bool
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(store port.LedgerStore, gateway port.PaymentGateway, cfg PaymentsConfig, metrics *observability.Metrics, logger *zap.Logger) *PaymentService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = true
	}
	return &PaymentService{
		store:      store,
		gateway:    gateway,
		cfg:        cfg,
		allowedIPs: allowed,
		metrics:    metrics,
		logger:     logger,
	}
}

// ============================================================
// Initialize: POST /v1/payments/initialize
// ============================================================

// Initialize opens a gateway checkout and records a pending credit under a
// fresh reference. If the gateway call fails nothing is persisted.
func (s *PaymentService) Initialize(ctx context.Context, accountID string, amount decimal.Decimal, email string) (*domain.PaymentInit, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.String("amount", amount.String()))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("payment_initialize", time.Since(start)) }()

	if !domain.ValidAmount(amount) {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive with at most two decimals", Code: domain.CodeInvalidAmount}
	}
	minor, _ := domain.ToMinorUnits(amount)

	acc, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	span.SetAttributes(attribute.String("payment.reference", reference))

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	checkoutURL, err := s.gateway.Initialize(gctx, minor, email, reference)
	cancel()
	if err != nil {
		s.metrics.IncrExternalError("paystack")
		s.logger.Error("payment initialize failed",
			zap.String("reference", reference),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil, err
	}

	txn := &domain.Transaction{
		ID:                      uuid.NewString(),
		AccountID:               acc.ID,
		AccountNumber:           acc.AccountNumber,
		Timestamp:               time.Now().UTC(),
		Amount:                  amount,
		Direction:               domain.Credit,
		BalanceAfterTransaction: decimal.Zero,
		Description:             domain.TopUpDescription,
		Status:                  domain.StatusPending,
		ExternalReference:       reference,
	}
	if err := s.store.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("record pending top-up: %w", err)
	}

	s.logger.Info("payment initialized",
		zap.String("reference", reference),
		zap.String("account_number", acc.AccountNumber),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &domain.PaymentInit{
		Reference:   reference,
		CheckoutURL: checkoutURL,
		Amount:      amount,
	}, nil
}

// ============================================================
// Reconcile
// ============================================================

// Reconcile settles a pending top-up after cross-checking it with the
// gateway. Repeated calls for a settled reference return
// OutcomeAlreadyProcessed and move no money.
func (s *PaymentService) Reconcile(ctx context.Context, req ReconcileRequest) (*domain.ReconcileResult, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.reference", req.Reference),
		attribute.String("payment.source", req.Source),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("reconcile", time.Since(start)) }()

	res, err := s.reconcile(ctx, req)
	if err != nil {
		outcome := "error"
		if code, ok := domain.RejectionCode(err); ok {
			outcome = string(code)
		}
		s.metrics.IncrReconciliation(req.Source, outcome)
		return nil, err
	}

	span.SetAttributes(attribute.String("payment.outcome", string(res.Outcome)))
	s.metrics.IncrReconciliation(req.Source, string(res.Outcome))
	return res, nil
}

func (s *PaymentService) reconcile(ctx context.Context, req ReconcileRequest) (*domain.ReconcileResult, error) {
	log := s.logger.With(zap.String("reference", req.Reference), zap.String("source", req.Source))

	if req.Source == SourceWebhook && req.EventKind != domain.EventChargeSuccess {
		log.Info("webhook event ignored", zap.String("event", req.EventKind))
		return &domain.ReconcileResult{Reference: req.Reference, Outcome: domain.OutcomeIgnored}, nil
	}

	txn, err := s.store.GetTransactionByReference(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusPending {
		log.Info("reconcile: already processed", zap.String("status", string(txn.Status)))
		return alreadyProcessed(txn), nil
	}

	if req.ClaimedAmount != nil && !req.ClaimedAmount.Equal(txn.Amount) {
		log.Warn("reconcile rejected: claimed amount mismatch",
			zap.String("expected", txn.Amount.StringFixed(2)),
			zap.String("claimed", req.ClaimedAmount.StringFixed(2)),
		)
		return &domain.ReconcileResult{Reference: req.Reference, Outcome: domain.OutcomeAmountMismatch, Status: txn.Status, Amount: txn.Amount}, nil
	}

	// Gateway I/O happens before any unit of work opens.
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	v, err := s.gateway.Verify(gctx, req.Reference)
	cancel()
	if err != nil {
		s.metrics.IncrExternalError("paystack")
		log.Error("reconcile: gateway verify failed, left pending", zap.Error(err))
		return nil, err
	}

	switch {
	case v.Success:
		paid := domain.FromMinorUnits(v.AmountMinor)
		if !paid.Equal(txn.Amount) {
			log.Warn("reconcile rejected: gateway amount mismatch",
				zap.String("expected", txn.Amount.StringFixed(2)),
				zap.String("gateway", paid.StringFixed(2)),
			)
			return &domain.ReconcileResult{
				Reference: req.Reference, Outcome: domain.OutcomeAmountMismatch,
				Status: txn.Status, Amount: txn.Amount, GatewayStatus: v.Status,
			}, nil
		}
		return s.credit(ctx, req.Reference, v.Status, log)

	case v.DefinitiveFailure():
		return s.markFailed(ctx, req.Reference, v.Status, log)
	}

	log.Info("reconcile: gateway still pending", zap.String("gateway_status", v.Status))
	return &domain.ReconcileResult{
		Reference: req.Reference, Outcome: domain.OutcomeStillPending,
		Status: txn.Status, Amount: txn.Amount, GatewayStatus: v.Status,
	}, nil
}

// credit applies a verified top-up. The compare-and-set on the pending
// status is the serialization point between concurrent reconciliations.
func (s *PaymentService) credit(ctx context.Context, reference, gatewayStatus string, log *zap.Logger) (*domain.ReconcileResult, error) {
	var res *domain.ReconcileResult
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		txn, err := tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		if txn.Status != domain.StatusPending {
			res = alreadyProcessed(txn)
			return nil
		}

		acc, err := tx.LockAccountByID(ctx, txn.AccountID)
		if err != nil {
			return err
		}
		balance := acc.Balance.Add(txn.Amount)

		settled, err := tx.SettleTransaction(ctx, txn.ID, domain.StatusSuccess, balance)
		if err != nil {
			return err
		}
		if !settled {
			res = alreadyProcessed(txn)
			return nil
		}

		if err := tx.SetAccountBalance(ctx, acc.ID, balance); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, &domain.LedgerEntry{
			ID:             uuid.NewString(),
			AccountID:      acc.ID,
			Timestamp:      time.Now().UTC(),
			Description:    txn.Description,
			Amount:         txn.Amount,
			Direction:      domain.Credit,
			RunningBalance: balance,
			Reference:      reference,
		}); err != nil {
			return err
		}

		res = &domain.ReconcileResult{
			Reference:     reference,
			Outcome:       domain.OutcomeCredited,
			Status:        domain.StatusSuccess,
			Amount:        txn.Amount,
			GatewayStatus: gatewayStatus,
			Balance:       balance,
		}
		return nil
	})
	if err != nil {
		if domain.IsBusinessRejection(err) {
			return nil, err
		}
		log.Error("reconcile: credit rolled back", zap.Error(err))
		return nil, fmt.Errorf("credit top-up: %w", err)
	}

	if res.Outcome == domain.OutcomeCredited {
		log.Info("top-up credited",
			zap.String("amount", res.Amount.StringFixed(2)),
			zap.String("balance", res.Balance.StringFixed(2)),
		)
	} else {
		log.Info("reconcile: lost settle race, already processed")
	}
	return res, nil
}

func (s *PaymentService) markFailed(ctx context.Context, reference, gatewayStatus string, log *zap.Logger) (*domain.ReconcileResult, error) {
	var res *domain.ReconcileResult
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		txn, err := tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		settled, err := tx.SettleTransaction(ctx, txn.ID, domain.StatusFailed, decimal.Zero)
		if err != nil {
			return err
		}
		if !settled {
			res = alreadyProcessed(txn)
			return nil
		}
		res = &domain.ReconcileResult{
			Reference:     reference,
			Outcome:       domain.OutcomeMarkedFailed,
			Status:        domain.StatusFailed,
			Amount:        txn.Amount,
			GatewayStatus: gatewayStatus,
		}
		return nil
	})
	if err != nil {
		if domain.IsBusinessRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("mark top-up failed: %w", err)
	}

	log.Info("reconcile: top-up closed", zap.String("outcome", string(res.Outcome)), zap.String("gateway_status", gatewayStatus))
	return res, nil
}

func alreadyProcessed(txn *domain.Transaction) *domain.ReconcileResult {
	return &domain.ReconcileResult{
		Reference: txn.ExternalReference,
		Outcome:   domain.OutcomeAlreadyProcessed,
		Status:    txn.Status,
		Amount:    txn.Amount,
		Balance:   txn.BalanceAfterTransaction,
	}
}

// ============================================================
// Webhook: POST /v1/payments/webhook
// ============================================================

// HandleWebhook authenticates a gateway push and reconciles it. Every
// authenticity failure is rejected before anything is read or written.
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature, remoteAddr string) (*domain.ReconcileResult, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if len(s.allowedIPs) > 0 {
		ip := clientIP(remoteAddr)
		if !s.allowedIPs[ip] {
			s.metrics.IncrSecurityRejection(string(domain.CodeSourceNotAllowed))
			s.logger.Warn("webhook rejected: source not allowed",
				zap.Bool("security_event", true),
				zap.String("remote_ip", ip),
			)
			return nil, &domain.ErrUnauthorized{Message: "webhook source not allowed", Code: domain.CodeSourceNotAllowed}
		}
	}

	if !s.gateway.SignatureValid(rawBody, signature) {
		s.metrics.IncrSecurityRejection(string(domain.CodeInvalidSignature))
		s.logger.Warn("webhook rejected: invalid signature",
			zap.Bool("security_event", true),
			zap.String("remote_addr", remoteAddr),
			zap.Int("body_bytes", len(rawBody)),
		)
		return nil, &domain.ErrUnauthorized{Message: "invalid webhook signature", Code: domain.CodeInvalidSignature}
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "malformed JSON", Code: domain.CodeMalformedPayload}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	claimed := domain.FromMinorUnits(*event.Data.Amount)
	return s.Reconcile(ctx, ReconcileRequest{
		Reference:     event.Data.Reference,
		ClaimedAmount: &claimed,
		EventKind:     event.Event,
		Source:        SourceWebhook,
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ============================================================
// Verify: GET /v1/payments/verify/{reference}
// ============================================================

// Verify reconciles a reference on the owner's request. References that
// belong to another account are reported as not found.
func (s *PaymentService) Verify(ctx context.Context, accountID, reference string) (*domain.ReconcileResult, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.Verify")
	defer span.End()

	txn, err := s.store.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.AccountID != accountID {
		s.logger.Warn("verify rejected: reference owned by another account",
			zap.String("reference", reference),
			zap.String("account_id", accountID),
		)
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: reference, Code: domain.CodeTransactionNotFound}
	}

	return s.Reconcile(ctx, ReconcileRequest{Reference: reference, Source: SourceVerify})
}

// isTransient reports whether err leaves the reference worth retrying later.
func isTransient(err error) bool {
	var notFound *domain.ErrNotFound
	return !errors.As(err, &notFound)
}
