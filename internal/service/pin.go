package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/otp"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// OneTimeCodes issues and consumes out-of-band verification codes.
type OneTimeCodes interface {
	Issue(ctx context.Context, userID uuid.UUID, purpose string) (string, error)
	Verify(ctx context.Context, userID uuid.UUID, purpose, code string) error
	TTL() time.Duration
}

type PinGuardConfig struct {
	MaxAttempts int
	Lockout     time.Duration
}

// PinGuard verifies withdrawal PINs with attempt counting and a timed lockout.
type PinGuard struct {
	store       QueryStore
	codes       OneTimeCodes
	notifier    notify.Notifier
	audit       *AuditService
	maxAttempts int
	lockout     time.Duration
	cost        int
	now         func() time.Time
}

func NewPinGuard(store QueryStore, codes OneTimeCodes, notifier notify.Notifier, cfg PinGuardConfig) *PinGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultPinMaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = domain.DefaultPinLockout
	}
	return &PinGuard{
		store:       store,
		codes:       codes,
		notifier:    notifier,
		audit:       NewAuditService(store),
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.Lockout,
		cost:        bcrypt.DefaultCost,
		now:         utcNow,
	}
}

// ValidatePinFormat checks the PIN shape without touching stored state.
func ValidatePinFormat(pin string) error {
	if err := validation.Validate(pin, validation.Required, validation.Match(pinPattern)); err != nil {
		return domain.NewValidationError("pin", "must be 4 to 6 digits")
	}
	return nil
}

// SetPin stores the first PIN for a wallet.
func (g *PinGuard) SetPin(ctx context.Context, userID uuid.UUID, pin string) error {
	if err := ValidatePinFormat(pin); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), g.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return g.store.RunInTx(ctx, func(q repository.Querier) error {
		w, err := q.GetWalletForUpdate(ctx, userID)
		if repository.IsNotFound(err) {
			return ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if w.PinHash != "" {
			return domain.ErrPinAlreadySet
		}
		rows, err := q.UpdateWalletPin(ctx, repository.UpdateWalletPinParams{UserID: userID, PinHash: string(hash)})
		if err != nil {
			return fmt.Errorf("store pin: %w", err)
		}
		if err := requireExactlyOne(rows, "store pin"); err != nil {
			return err
		}
		return g.audit.Write(ctx, q, "wallet", userID.String(), &userID, "pin_set", "", "", nil)
	})
}

// VerifyPin checks candidate against the stored hash. The attempt counter is
// committed in its own transaction so a failed attempt is never rolled back
// by the operation the PIN was guarding.
func (g *PinGuard) VerifyPin(ctx context.Context, userID uuid.UUID, candidate string) error {
	var (
		verdict  error
		lockedAt bool
	)
	err := g.store.RunInTx(ctx, func(q repository.Querier) error {
		verdict, lockedAt = nil, false
		w, err := q.GetWalletForUpdate(ctx, userID)
		if repository.IsNotFound(err) {
			return ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if w.PinHash == "" {
			verdict = domain.ErrPinNotSet
			return nil
		}

		now := g.now()
		attempts, lockedUntil := w.PinAttempts, w.PinLockedUntil
		if lockedUntil != nil {
			if now.Before(*lockedUntil) {
				verdict = &domain.PinLockedError{Remaining: lockedUntil.Sub(now)}
				return nil
			}
			attempts, lockedUntil = 0, nil
		}

		if bcrypt.CompareHashAndPassword([]byte(w.PinHash), []byte(candidate)) != nil {
			attempts++
			if attempts >= g.maxAttempts {
				until := now.Add(g.lockout)
				lockedUntil = &until
				lockedAt = true
			}
			verdict = &domain.PinInvalidError{AttemptsRemaining: max(g.maxAttempts-attempts, 0)}
		} else {
			attempts, lockedUntil = 0, nil
		}

		if attempts == w.PinAttempts && timesEqual(lockedUntil, w.PinLockedUntil) {
			return nil
		}
		rows, err := q.UpdateWalletPin(ctx, repository.UpdateWalletPinParams{
			UserID:      userID,
			PinHash:     w.PinHash,
			Attempts:    attempts,
			LockedUntil: lockedUntil,
		})
		if err != nil {
			return fmt.Errorf("update pin attempts: %w", err)
		}
		if err := requireExactlyOne(rows, "update pin attempts"); err != nil {
			return err
		}
		if lockedAt {
			return g.audit.Write(ctx, q, "wallet", userID.String(), nil, "pin_locked", "", "", marshalMetadata(map[string]any{
				"locked_until": lockedUntil.Format(time.RFC3339),
			}))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if lockedAt {
		observability.IncrementPinLockout()
		zap.L().Warn("wallet pin locked", zap.String("user_id", userID.String()))
		g.notifier.Notify(ctx, domain.EventPinLocked, map[string]any{
			"user_id":         userID.String(),
			"lockout_seconds": int64(g.lockout.Seconds()),
		})
	}
	return verdict
}

// RequestChangeCode sends a single-use code through the notification channel.
func (g *PinGuard) RequestChangeCode(ctx context.Context, userID uuid.UUID) (time.Duration, error) {
	if _, err := g.store.Queries().GetWallet(ctx, userID); err != nil {
		if repository.IsNotFound(err) {
			return 0, ErrWalletNotFound
		}
		return 0, fmt.Errorf("get wallet: %w", err)
	}
	code, err := g.codes.Issue(ctx, userID, otp.PurposePinChange)
	if err != nil {
		return 0, fmt.Errorf("issue pin change code: %w", err)
	}
	g.notifier.Notify(ctx, domain.EventPinChangeCode, map[string]any{
		"user_id":         userID.String(),
		"code":            code,
		"expires_seconds": int64(g.codes.TTL().Seconds()),
	})
	return g.codes.TTL(), nil
}

// ChangePin requires the current PIN and a freshly issued one-time code.
func (g *PinGuard) ChangePin(ctx context.Context, userID uuid.UUID, currentPin, code, newPin string) error {
	if err := ValidatePinFormat(newPin); err != nil {
		return err
	}
	if err := g.VerifyPin(ctx, userID, currentPin); err != nil {
		return err
	}
	if err := g.codes.Verify(ctx, userID, otp.PurposePinChange, code); err != nil {
		if errors.Is(err, domain.ErrInvalidOTP) {
			return err
		}
		return fmt.Errorf("verify pin change code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPin), g.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return g.store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetWalletForUpdate(ctx, userID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		rows, err := q.UpdateWalletPin(ctx, repository.UpdateWalletPinParams{UserID: userID, PinHash: string(hash)})
		if err != nil {
			return fmt.Errorf("store pin: %w", err)
		}
		if err := requireExactlyOne(rows, "store pin"); err != nil {
			return err
		}
		return g.audit.Write(ctx, q, "wallet", userID.String(), &userID, "pin_changed", "", "", nil)
	})
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
