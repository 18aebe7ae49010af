package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.users.Register(ctx, RegisterRequest{Username: "  amina ", Email: "Amina@Example.com", Phone: "+254 712 345 678"})
	require.NoError(t, err)
	assert.Equal(t, "amina", u.Username)
	assert.Equal(t, "amina@example.com", u.Email)
	assert.Equal(t, "254712345678", u.Phone)
	assert.Regexp(t, `^[A-HJ-NP-Z2-9]{8}$`, u.ReferralCode)
	assert.Nil(t, u.ReferredBy)

	w, err := h.ledger.GetWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), w.TotalBalance())
	assert.Empty(t, w.PinHash)
}

func TestRegisterWithReferralCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.newUser(t, nil)

	u, err := h.users.Register(ctx, RegisterRequest{Username: "baraka", Email: "baraka@example.com", ReferralCode: " " + referrer.ReferralCode})
	require.NoError(t, err)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, referrer.ID, *u.ReferredBy)

	_, err = h.users.Register(ctx, RegisterRequest{Username: "chebet", Email: "chebet@example.com", ReferralCode: "ZZZZZZZZ"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "referral_code", verr.Field)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{"short_username", RegisterRequest{Username: "ab", Email: "ab@example.com"}, "username"},
		{"bad_email", RegisterRequest{Username: "abc", Email: "not-an-email"}, "email"},
		{"bad_code_length", RegisterRequest{Username: "abc", Email: "abc@example.com", ReferralCode: "ABC"}, "referral_code"},
		{"bad_phone", RegisterRequest{Username: "abc", Email: "abc@example.com", Phone: "12"}, "phone"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.users.Register(context.Background(), tc.req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.users.Register(ctx, RegisterRequest{Username: "dawit", Email: "dawit@example.com"})
	require.NoError(t, err)
	_, err = h.users.Register(ctx, RegisterRequest{Username: "dawit", Email: "other@example.com"})
	require.ErrorIs(t, err, ErrUserExists)
	_, err = h.users.Register(ctx, RegisterRequest{Username: "other", Email: "DAWIT@example.com"})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = h.users.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrUserNotFound)
}
