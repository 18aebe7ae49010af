package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)
	ErrUserExists   = errors.New("username or email already registered")
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeAttempts = 5
	referralCodeKey      = "users_referral_code_key"
)

// UserService registers users. A wallet is created in the same transaction.
type UserService struct {
	store QueryStore
	audit *AuditService
}

func NewUserService(store QueryStore) *UserService {
	return &UserService{store: store, audit: NewAuditService(store)}
}

type RegisterRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	ReferralCode string `json:"referral_code"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.ReferralCode, validation.Length(referralCodeLength, referralCodeLength)),
	)
}

// Register creates the user and its wallet, resolving an optional referrer by code.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.ReferralCode = strings.ToUpper(strings.TrimSpace(req.ReferralCode))
	if err := req.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	if req.Phone != "" {
		phone, err := NormalizePhone(req.Phone)
		if err != nil {
			return nil, err
		}
		req.Phone = phone
	}

	var (
		user models.User
		err  error
	)
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		user, err = s.register(ctx, req)
		if !repository.IsUniqueViolation(err, referralCodeKey) {
			break
		}
		zap.L().Warn("referral code collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserService) register(ctx context.Context, req RegisterRequest) (models.User, error) {
	code, err := newReferralCode()
	if err != nil {
		return models.User{}, fmt.Errorf("generate referral code: %w", err)
	}
	user := models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		Phone:        req.Phone,
		ReferralCode: code,
	}

	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if req.ReferralCode != "" {
			referrer, err := q.GetUserByReferralCode(ctx, req.ReferralCode)
			if repository.IsNotFound(err) {
				return domain.NewValidationError("referral_code", "unknown referral code")
			}
			if err != nil {
				return fmt.Errorf("resolve referral code: %w", err)
			}
			user.ReferredBy = &referrer.ID
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := q.CreateWallet(ctx, user.ID); err != nil {
			return fmt.Errorf("create wallet: %w", err)
		}
		return s.audit.Write(ctx, q, "user", user.ID.String(), &user.ID, "registered", "", "", marshalMetadata(map[string]any{
			"referred": user.ReferredBy != nil,
		}))
	})
	return user, err
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.store.Queries().GetUser(ctx, id)
	if repository.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func newReferralCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// toValidationError reports the first failing field of an ozzo error set.
func toValidationError(err error) error {
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return domain.NewValidationError("", err.Error())
	}
	for _, name := range sortedKeys(fields) {
		if fields[name] != nil {
			return domain.NewValidationError(name, fields[name].Error())
		}
	}
	return nil
}
