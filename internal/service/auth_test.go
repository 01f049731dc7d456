package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/memstore"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/security"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestRegister_CreatesUserAndAccount(t *testing.T) {
	f := newFixture(t)

	resp, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		Username:  "ada",
		Email:     "Ada@Example.com",
		Password:  "analytical-engine",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !domain.ValidAccountNumber(resp.AccountNumber) || resp.AccountNumber[:3] != "200" {
		t.Errorf("unexpected account number %q", resp.AccountNumber)
	}

	acc, err := f.store.GetAccountByNumber(context.Background(), resp.AccountNumber)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.OwnerID != resp.UserID || !acc.Balance.IsZero() || acc.Currency != domain.DefaultCurrency {
		t.Errorf("unexpected account: %+v", acc)
	}

	user, err := f.store.GetUserByID(context.Background(), resp.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.PinIsSet {
		t.Error("new users must start without a pin")
	}
	if user.PasswordDigest == "" || user.PasswordDigest == "analytical-engine" {
		t.Error("password must be stored as a digest")
	}
	if user.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	valid := domain.RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "long-enough", FirstName: "Ada", LastName: "L"}

	tests := []struct {
		name   string
		mutate func(r *domain.RegisterRequest)
	}{
		{"missing username", func(r *domain.RegisterRequest) { r.Username = " " }},
		{"bad email", func(r *domain.RegisterRequest) { r.Email = "not-an-email" }},
		{"short password", func(r *domain.RegisterRequest) { r.Password = "short" }},
		{"oversized password", func(r *domain.RegisterRequest) { r.Password = strings.Repeat("x", 129) }},
		{"missing first name", func(r *domain.RegisterRequest) { r.FirstName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.auth.Register(context.Background(), &req)
			if _, ok := err.(*domain.ErrValidation); !ok {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegister_LongPasswordLogsIn(t *testing.T) {
	f := newFixture(t)
	password := strings.Repeat("horse-battery-", 6)

	if _, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		Username: "ada", Email: "ada@example.com", Password: password, FirstName: "Ada", LastName: "L",
	}); err != nil {
		t.Fatalf("register with %d-byte password: %v", len(password), err)
	}

	if _, err := f.auth.Login(context.Background(), &domain.LoginRequest{Username: "ada", Password: password}); err != nil {
		t.Errorf("expected login to succeed, got %v", err)
	}
	_, err := f.auth.Login(context.Background(), &domain.LoginRequest{Username: "ada", Password: password[:len(password)-1] + "!"})
	if got := rejectionCode(t, err); got != domain.CodeInvalidCredentials {
		t.Errorf("expected tail change to be rejected, got %s", got)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada", "")

	_, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		Username: "ADA", Email: "other@example.com", Password: "long-enough", FirstName: "A", LastName: "B",
	})
	if got := rejectionCode(t, err); got != domain.CodeDuplicateUser {
		t.Errorf("expected duplicate_user, got %s", got)
	}
}

func TestRegister_AccountNumberExhaustionRollsBackUser(t *testing.T) {
	f := newFixture(t)
	f.accounts.WithNumberSource(func() string { return "2001234567" })
	f.register(t, "first", "")

	_, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		Username: "second", Email: "second@example.com", Password: "long-enough", FirstName: "S", LastName: "S",
	})
	if got := rejectionCode(t, err); got != domain.CodeAccountNumberExhaust {
		t.Fatalf("expected account_number_exhausted, got %s", got)
	}
	if _, err := f.store.GetUserByUsername(context.Background(), "second"); err == nil {
		t.Error("user must not persist when account creation fails")
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "ada", "")

	resp, err := f.auth.Login(context.Background(), &domain.LoginRequest{Username: "ada", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.AccountNumber != acc.AccountNumber || resp.PinIsSet {
		t.Errorf("unexpected login response: %+v", resp)
	}

	claims, err := f.auth.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Sub != acc.OwnerID || claims.AccountID != acc.ID || claims.AccountNumber != acc.AccountNumber {
		t.Errorf("unexpected claims: %+v", claims)
	}

	for _, req := range []domain.LoginRequest{
		{Username: "ada", Password: "wrong-password"},
		{Username: "nobody", Password: "correct-horse"},
	} {
		_, err := f.auth.Login(context.Background(), &req)
		if got := rejectionCode(t, err); got != domain.CodeInvalidCredentials {
			t.Errorf("%s: expected invalid_credentials, got %s", req.Username, got)
		}
	}
}

func TestValidateAccessToken_RejectsForeignAndExpired(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada", "")
	resp, err := f.auth.Login(context.Background(), &domain.LoginRequest{Username: "ada", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := service.NewAuthService(f.store, f.store, f.accounts, security.NewBcryptHasher(bcrypt.MinCost), "other-secret", time.Minute, zap.NewNop())
	if _, err := other.ValidateAccessToken(resp.AccessToken); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}

	expired := service.NewAuthService(f.store, f.store, f.accounts, security.NewBcryptHasher(bcrypt.MinCost), "test-secret", -time.Minute, zap.NewNop())
	old, err := expired.Login(context.Background(), &domain.LoginRequest{Username: "ada", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.auth.ValidateAccessToken(old.AccessToken); err == nil {
		t.Error("expected expired token to be rejected")
	}

	if _, err := f.auth.ValidateAccessToken("garbage"); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}

func TestSetPin(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "ada", "")
	ctx := context.Background()

	if err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "12a4"}); err == nil {
		t.Error("expected non-digit pin to be rejected")
	}
	if err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "12345"}); err == nil {
		t.Error("expected 5-digit pin to be rejected")
	}

	if err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "1111"}); err != nil {
		t.Fatalf("first set: %v", err)
	}

	err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "2222"})
	if got := rejectionCode(t, err); got != domain.CodeInvalidPin {
		t.Errorf("expected change without current pin to fail with invalid_pin, got %s", got)
	}

	if err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{CurrentPin: "1111", NewPin: "2222"}); err != nil {
		t.Fatalf("change: %v", err)
	}

	user, _ := f.store.GetUserByID(ctx, acc.OwnerID)
	if !user.PinIsSet {
		t.Error("expected pin_is_set after set")
	}
}

// staleUserStore serves a user snapshot taken before any PIN was set.
type staleUserStore struct {
	*memstore.Store
	snapshot domain.User
}

func (s *staleUserStore) GetUserByID(context.Context, string) (*domain.User, error) {
	u := s.snapshot
	return &u, nil
}

func TestSetPin_LostUpdateIsConflict(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "ada", "")
	ctx := context.Background()

	before, err := f.store.GetUserByID(ctx, acc.OwnerID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "1111"}); err != nil {
		t.Fatalf("first set: %v", err)
	}

	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	stale := service.NewAuthService(f.store, &staleUserStore{Store: f.store, snapshot: *before}, f.accounts, hasher, "test-secret", time.Minute, zap.NewNop())

	err = stale.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: "2222"})
	if got := rejectionCode(t, err); got != domain.CodePinChanged {
		t.Fatalf("expected pin_changed_concurrently, got %s", got)
	}

	user, _ := f.store.GetUserByID(ctx, acc.OwnerID)
	if !hasher.VerifySecret("1111", user.PinDigest, user.PinSalt) {
		t.Error("expected the first pin to survive")
	}
}

func TestSetPin_ConcurrentFirstSetHasOneWinner(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "ada", "")
	ctx := context.Background()

	pins := []string{"1000", "2000", "3000", "4000", "5000", "6000", "7000", "8000"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, pin := range pins {
		wg.Add(1)
		go func(pin string) {
			defer wg.Done()
			err := f.auth.SetPin(ctx, acc.OwnerID, &domain.SetPinRequest{NewPin: pin})
			if err == nil {
				mu.Lock()
				winners = append(winners, pin)
				mu.Unlock()
				return
			}
			if code, _ := domain.RejectionCode(err); code != domain.CodePinChanged && code != domain.CodeInvalidPin {
				t.Errorf("pin %s: unexpected error %v", pin, err)
			}
		}(pin)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one pin to be set, got %v", winners)
	}
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	user, _ := f.store.GetUserByID(ctx, acc.OwnerID)
	if !hasher.VerifySecret(winners[0], user.PinDigest, user.PinSalt) {
		t.Errorf("stored pin does not match the winner %s", winners[0])
	}
}
