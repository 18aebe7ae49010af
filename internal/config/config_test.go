package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_HMAC_KEY", "callback-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, GatewayModeSandbox, cfg.Gateway.Mode)
	assert.Equal(t, 4, cfg.PinMaxAttempts)
	assert.Equal(t, 2*time.Hour, cfg.PinLockout)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 5*time.Minute, cfg.WithdrawalCooldown)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.StuckAfter)
	assert.Equal(t, int32(100), cfg.Sweep.BatchSize)
	assert.Equal(t, "KES", cfg.Currency)
}

func TestLoadPrefixedAlias(t *testing.T) {
	t.Setenv("SETTLEMENT_JWT_SECRET", testSecret)
	t.Setenv("SETTLEMENT_WEBHOOK_SKIP_SIG", "true")
	t.Setenv("SETTLEMENT_SWEEP_STUCK_AFTER", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WebhookSkipSignature)
	assert.Equal(t, 2*time.Minute, cfg.Sweep.StuckAfter)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing secret",
			env:  map[string]string{"JWT_SECRET": "", "WEBHOOK_SKIP_SIG": "true"},
			want: "JWT_SECRET is required",
		},
		{
			name: "short secret",
			env:  map[string]string{"JWT_SECRET": "short", "WEBHOOK_SKIP_SIG": "true"},
			want: "at least 32",
		},
		{
			name: "missing hmac key",
			env:  map[string]string{"JWT_SECRET": testSecret},
			want: "WEBHOOK_HMAC_KEY",
		},
		{
			name: "bad duration",
			env:  map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "PIN_LOCKOUT": "two hours"},
			want: "PIN_LOCKOUT",
		},
		{
			name: "live gateway without credentials",
			env:  map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "GATEWAY_MODE": "live"},
			want: "GATEWAY_BASE_URL",
		},
		{
			name: "unknown gateway mode",
			env:  map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "GATEWAY_MODE": "mock"},
			want: "GATEWAY_MODE",
		},
		{
			name: "manual before stuck",
			env:  map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "SWEEP_MANUAL_AFTER": "1m"},
			want: "SWEEP_MANUAL_AFTER",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
