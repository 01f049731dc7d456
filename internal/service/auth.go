package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"
	"github.com/boddenberg/wallet-ledger-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var authTracer = otel.Tracer("service/auth")

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	pinLength         = 4
	tokenIssuer       = "wallet-ledger"
)

// AuthService handles registration, login, transaction PINs and access
// tokens.
type AuthService struct {
	store     port.LedgerStore
	users     port.UserStore
	accounts  *AccountService
	hasher    port.SecretHasher
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.LedgerStore, users port.UserStore, accounts *AccountService, hasher port.SecretHasher, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		users:     users,
		accounts:  accounts,
		hasher:    hasher,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// ============================================================
// Register: POST /v1/auth/register
// ============================================================

// Register creates the user and its account in one unit of work.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	digest, salt, err := s.hasher.HashSecret(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:             uuid.NewString(),
		Username:       strings.TrimSpace(req.Username),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		PasswordDigest: digest,
		PasswordSalt:   salt,
		CreatedAt:      time.Now().UTC(),
	}

	var acc *domain.Account
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		var err error
		acc, err = s.accounts.CreateAccountTx(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			return nil, err
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("account_number", acc.AccountNumber),
	)

	return &domain.RegisterResponse{
		UserID:        user.ID,
		AccountNumber: acc.AccountNumber,
		Message:       "registration successful",
	}, nil
}

func validateRegistration(req *domain.RegisterRequest) error {
	switch {
	case strings.TrimSpace(req.Username) == "":
		return &domain.ErrValidation{Field: "username", Message: "required"}
	case strings.TrimSpace(req.FirstName) == "":
		return &domain.ErrValidation{Field: "first_name", Message: "required"}
	case strings.TrimSpace(req.LastName) == "":
		return &domain.ErrValidation{Field: "last_name", Message: "required"}
	case len(req.Password) < minPasswordLength:
		return &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	case len(req.Password) > maxPasswordLength:
		return &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("must be at most %d characters", maxPasswordLength)}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return &domain.ErrValidation{Field: "email", Message: "invalid email address"}
	}
	return nil
}

// ============================================================
// Login: POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()
	span.SetAttributes(attribute.String("username", req.Username))

	invalid := &domain.ErrUnauthorized{Message: "invalid username or password", Code: domain.CodeInvalidCredentials}

	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.logger.Warn("login: unknown username", zap.String("username", req.Username))
			return nil, invalid
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !s.hasher.VerifySecret(req.Password, user.PasswordDigest, user.PasswordSalt) {
		s.logger.Warn("login: wrong password", zap.String("user_id", user.ID))
		return nil, invalid
	}

	acc, err := s.store.GetAccountByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	token, err := s.signAccessToken(user, acc)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))

	return &domain.LoginResponse{
		AccessToken:   token,
		ExpiresIn:     int(s.accessTTL.Seconds()),
		AccountNumber: acc.AccountNumber,
		Balance:       acc.Balance,
		PinIsSet:      user.PinIsSet,
	}, nil
}

// ============================================================
// PIN: PUT /v1/users/pin
// ============================================================

// SetPin sets the transaction PIN. Changing an existing PIN requires the
// current one.
func (s *AuthService) SetPin(ctx context.Context, userID string, req *domain.SetPinRequest) error {
	ctx, span := authTracer.Start(ctx, "AuthService.SetPin")
	defer span.End()

	if !validPin(req.NewPin) {
		return &domain.ErrValidation{Field: "new_pin", Message: fmt.Sprintf("must be exactly %d digits", pinLength)}
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.PinIsSet && !s.hasher.VerifySecret(req.CurrentPin, user.PinDigest, user.PinSalt) {
		s.logger.Warn("pin change rejected: wrong current pin",
			zap.Bool("security_event", true),
			zap.String("user_id", userID),
		)
		return &domain.ErrUnauthorized{Message: "current pin is incorrect", Code: domain.CodeInvalidPin}
	}

	digest, salt, err := s.hasher.HashSecret(req.NewPin)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	ok, err := s.users.UpdatePin(ctx, userID, user.PinDigest, digest, salt)
	if err != nil {
		return fmt.Errorf("update pin: %w", err)
	}
	if !ok {
		s.logger.Warn("pin update lost to a concurrent change",
			zap.Bool("security_event", true),
			zap.String("user_id", userID),
		)
		return &domain.ErrConflict{Message: "pin was changed concurrently, retry", Code: domain.CodePinChanged}
	}

	s.logger.Info("transaction pin set", zap.String("user_id", userID), zap.Bool("changed", user.PinIsSet))
	return nil
}

func validPin(pin string) bool {
	if len(pin) != pinLength {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ============================================================
// Access tokens
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub           string `json:"sub"`
	AccountID     string `json:"account_id"`
	AccountNumber string `json:"account_number"`
	Email         string `json:"email"`
	Type          string `json:"type"`
	jwt.RegisteredClaims
}

// ValidateAccessToken is used by the auth middleware.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(user *domain.User, acc *domain.Account) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:           user.ID,
		AccountID:     acc.ID,
		AccountNumber: acc.AccountNumber,
		Email:         user.Email,
		Type:          "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
