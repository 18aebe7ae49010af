package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings reads and writes the system_settings table.
type Settings struct {
	store QueryStore
	audit *AuditService
}

func NewSettings(store QueryStore) *Settings {
	return &Settings{store: store, audit: NewAuditService(store)}
}

var settingDefaults = map[string]string{
	domain.SettingEcommerceRate: domain.DefaultEcommerceRate,
	domain.SettingServiceRate:   domain.DefaultServiceRate,
	domain.SettingWithdrawalMin: domain.DefaultWithdrawalMin,
	domain.SettingWithdrawalMax: domain.DefaultWithdrawalMax,
}

func (s *Settings) get(ctx context.Context, q repository.Querier, key string) (string, error) {
	v, err := q.GetSetting(ctx, key)
	if repository.IsNotFound(err) {
		return settingDefaults[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, nil
}

// CommissionRate returns the configured rate for an order kind.
func (s *Settings) CommissionRate(ctx context.Context, q repository.Querier, kind domain.OrderKind) (decimal.Decimal, error) {
	var key string
	switch kind {
	case domain.SourceEcommerceOrder:
		key = domain.SettingEcommerceRate
	case domain.SourceServiceOrder:
		key = domain.SettingServiceRate
	default:
		return decimal.Zero, fmt.Errorf("no commission rate for order kind %q", kind)
	}
	raw, err := s.get(ctx, q, key)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := parseRate(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("setting %s: %w", key, err)
	}
	return rate, nil
}

// WithdrawalBounds returns the inclusive min and max withdrawal amounts.
func (s *Settings) WithdrawalBounds(ctx context.Context, q repository.Querier) (domain.Money, domain.Money, error) {
	rawMin, err := s.get(ctx, q, domain.SettingWithdrawalMin)
	if err != nil {
		return 0, 0, err
	}
	rawMax, err := s.get(ctx, q, domain.SettingWithdrawalMax)
	if err != nil {
		return 0, 0, err
	}
	lo, err := domain.ParseMoney(rawMin)
	if err != nil {
		return 0, 0, fmt.Errorf("setting %s: %w", domain.SettingWithdrawalMin, err)
	}
	hi, err := domain.ParseMoney(rawMax)
	if err != nil {
		return 0, 0, fmt.Errorf("setting %s: %w", domain.SettingWithdrawalMax, err)
	}
	return lo, hi, nil
}

// All returns every known setting with defaults applied.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	q := s.store.Queries()
	out := make(map[string]string, len(settingDefaults))
	for key := range settingDefaults {
		v, err := s.get(ctx, q, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Set validates and stores a setting.
func (s *Settings) Set(ctx context.Context, actorID *uuid.UUID, key, value string) error {
	if _, known := settingDefaults[key]; !known {
		return domain.NewValidationError("key", fmt.Sprintf("unknown setting %q", key))
	}
	switch key {
	case domain.SettingEcommerceRate, domain.SettingServiceRate:
		if _, err := parseRate(value); err != nil {
			return domain.NewValidationError("value", err.Error())
		}
	default:
		m, err := domain.ParseMoney(value)
		if err != nil || !m.IsPositive() {
			return domain.NewValidationError("value", "must be a positive amount")
		}
		value = m.String()
	}

	return s.store.RunInTx(ctx, func(q repository.Querier) error {
		prev, err := s.get(ctx, q, key)
		if err != nil {
			return err
		}
		if key == domain.SettingWithdrawalMin || key == domain.SettingWithdrawalMax {
			if err := s.checkBounds(ctx, q, key, value); err != nil {
				return err
			}
		}
		if err := q.UpsertSetting(ctx, key, value); err != nil {
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
		return s.audit.Write(ctx, q, "setting", key, actorID, "setting_updated", prev, value, nil)
	})
}

func (s *Settings) checkBounds(ctx context.Context, q repository.Querier, key, value string) error {
	lo, hi, err := s.WithdrawalBounds(ctx, q)
	if err != nil {
		return err
	}
	v := domain.MustParseMoney(value)
	if key == domain.SettingWithdrawalMin {
		lo = v
	} else {
		hi = v
	}
	if lo > hi {
		return domain.NewValidationError("value", fmt.Sprintf("withdrawal min %s exceeds max %s", lo, hi))
	}
	return nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q", raw)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %s must be between 0 and 1", rate)
	}
	return rate, nil
}
