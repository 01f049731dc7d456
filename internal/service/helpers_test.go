package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/cache"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/memstore"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/observability"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/security"
	"github.com/boddenberg/wallet-ledger-go/internal/port"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

// --- Mocks ---

type mockGateway struct {
	mu sync.Mutex

	checkoutURL string
	initErr     error
	initCalls   int

	verifications map[string]*domain.GatewayVerification
	verifyErr     error
	verifyCalls   int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		checkoutURL:   "https://checkout.example/abc",
		verifications: make(map[string]*domain.GatewayVerification),
	}
}

func (m *mockGateway) Initialize(_ context.Context, _ int64, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.checkoutURL, m.initErr
}

func (m *mockGateway) Verify(_ context.Context, reference string) (*domain.GatewayVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if v, ok := m.verifications[reference]; ok {
		return v, nil
	}
	return &domain.GatewayVerification{Status: "pending"}, nil
}

func (m *mockGateway) SignatureValid(_ []byte, signature string) bool {
	return signature == "valid-signature"
}

func (m *mockGateway) succeed(reference string, amount decimal.Decimal) {
	minor, _ := domain.ToMinorUnits(amount)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[reference] = &domain.GatewayVerification{Success: true, AmountMinor: minor, Status: "success"}
}

func (m *mockGateway) setStatus(reference, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[reference] = &domain.GatewayVerification{Status: status}
}

func (m *mockGateway) verifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyCalls
}

// failingStore makes the nth AppendLedgerEntry inside any unit of work fail.
type failingStore struct {
	*memstore.Store
	failOnEntry int
}

func (f *failingStore) base() *memstore.Store { return f.Store }

func (f *failingStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	return f.Store.WithinTx(ctx, func(tx port.LedgerTx) error {
		return fn(&failingTx{LedgerTx: tx, failOn: f.failOnEntry})
	})
}

type failingTx struct {
	port.LedgerTx
	failOn  int
	entries int
}

var errInjected = errors.New("injected store failure")

func (f *failingTx) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	f.entries++
	if f.entries == f.failOn {
		return errInjected
	}
	return f.LedgerTx.AppendLedgerEntry(ctx, entry)
}

// interleavingStore runs before in its own unit of work ahead of every
// other one, standing in for a writer that commits between a caller's
// pre-checks and its locks.
type interleavingStore struct {
	*memstore.Store
	before func(ctx context.Context, tx port.LedgerTx) error
}

func (s *interleavingStore) base() *memstore.Store { return s.Store }

func (s *interleavingStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	if s.before != nil {
		before := s.before
		s.before = nil
		if err := s.Store.WithinTx(ctx, func(tx port.LedgerTx) error { return before(ctx, tx) }); err != nil {
			return err
		}
	}
	return s.Store.WithinTx(ctx, fn)
}

// --- Fixture ---

type fixture struct {
	store     *memstore.Store
	gateway   *mockGateway
	metrics   *observability.Metrics
	accounts  *service.AccountService
	transfers *service.TransferService
	payments  *service.PaymentService
	audit     *service.AuditService
	auth      *service.AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore wires the services; ledger, if set, replaces the
// memstore for balance-mutating work.
func newFixtureWithStore(t *testing.T, ledger port.LedgerStore) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, ledger, zap.NewNop())
}

// newObservedFixture records everything the services log at Info and above.
func newObservedFixture(t *testing.T, ledger port.LedgerStore) (*fixture, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return newFixtureWithLogger(t, ledger, zap.New(core)), logs
}

func newFixtureWithLogger(t *testing.T, ledger port.LedgerStore, logger *zap.Logger) *fixture {
	t.Helper()

	store := memstore.New()
	if ledger == nil {
		ledger = store
	}
	if w, ok := ledger.(interface{ base() *memstore.Store }); ok {
		store = w.base()
	}

	names := cache.New[string](time.Minute)
	t.Cleanup(names.Close)

	metrics := observability.NewMetrics()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	gateway := newMockGateway()

	accounts := service.NewAccountService(ledger, names, metrics, logger)
	payments := service.NewPaymentService(ledger, gateway, service.PaymentsConfig{GatewayTimeout: time.Second}, metrics, logger)

	return &fixture{
		store:     store,
		gateway:   gateway,
		metrics:   metrics,
		accounts:  accounts,
		transfers: service.NewTransferService(ledger, store, hasher, metrics, logger),
		payments:  payments,
		audit:     service.NewAuditService(ledger, logger),
		auth:      service.NewAuthService(ledger, store, accounts, hasher, "test-secret", time.Minute, logger),
	}
}

// register creates a user with a PIN and returns its account.
func (f *fixture) register(t *testing.T, username, pin string) *domain.Account {
	t.Helper()
	ctx := context.Background()

	resp, err := f.auth.Register(ctx, &domain.RegisterRequest{
		Username:  username,
		Email:     username + "@example.com",
		Password:  "correct-horse",
		FirstName: "Test",
		LastName:  username,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if pin != "" {
		if err := f.auth.SetPin(ctx, resp.UserID, &domain.SetPinRequest{NewPin: pin}); err != nil {
			t.Fatalf("set pin for %s: %v", username, err)
		}
	}

	acc, err := f.store.GetAccountByNumber(ctx, resp.AccountNumber)
	if err != nil {
		t.Fatalf("get account %s: %v", resp.AccountNumber, err)
	}
	return acc
}

// fund credits an account through the top-up path.
func (f *fixture) fund(t *testing.T, acc *domain.Account, amount decimal.Decimal) {
	t.Helper()
	ctx := context.Background()

	init, err := f.payments.Initialize(ctx, acc.ID, amount, "payer@example.com")
	if err != nil {
		t.Fatalf("initialize top-up: %v", err)
	}
	f.gateway.succeed(init.Reference, amount)

	res, err := f.payments.Verify(ctx, acc.ID, init.Reference)
	if err != nil {
		t.Fatalf("verify top-up: %v", err)
	}
	if res.Outcome != domain.OutcomeCredited {
		t.Fatalf("expected top-up credited, got %s", res.Outcome)
	}
}

func (f *fixture) balance(t *testing.T, accountNumber string) decimal.Decimal {
	t.Helper()
	acc, err := f.store.GetAccountByNumber(context.Background(), accountNumber)
	if err != nil {
		t.Fatalf("get account %s: %v", accountNumber, err)
	}
	return acc.Balance
}

func (f *fixture) assertConsistent(t *testing.T, acc *domain.Account) {
	t.Helper()
	audit, err := f.audit.VerifyAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("audit %s: %v", acc.AccountNumber, err)
	}
	if !audit.Consistent {
		t.Errorf("ledger drift on %s: replayed=%s balance=%s first_drift=%s",
			acc.AccountNumber, audit.ReplayedTotal, audit.AccountBalance, audit.FirstDriftAt)
	}
}

// seedPending inserts a pending top-up directly, bypassing the gateway.
func (f *fixture) seedPending(t *testing.T, acc *domain.Account, amount decimal.Decimal, createdAt time.Time) string {
	t.Helper()
	ref := uuid.NewString()
	err := f.store.InsertTransaction(context.Background(), &domain.Transaction{
		ID:                uuid.NewString(),
		AccountID:         acc.ID,
		AccountNumber:     acc.AccountNumber,
		Timestamp:         createdAt,
		Amount:            amount,
		Direction:         domain.Credit,
		Description:       domain.TopUpDescription,
		Status:            domain.StatusPending,
		ExternalReference: ref,
	})
	if err != nil {
		t.Fatalf("seed pending: %v", err)
	}
	return ref
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rejectionCode(t *testing.T, err error) domain.Code {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	code, ok := domain.RejectionCode(err)
	if !ok {
		t.Fatalf("expected business rejection, got %v", err)
	}
	return code
}
