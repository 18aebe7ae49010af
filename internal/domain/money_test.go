package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "150", want: 15000},
		{in: "6.5", want: 650},
		{in: "0.01", want: 1},
		{in: " 200.00 ", want: 20000},
		{in: "1.005", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMoney(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMoney_MulRate(t *testing.T) {
	amount := MustParseMoney("200")
	assert.Equal(t, MustParseMoney("6.00"), amount.MulRate(decimal.RequireFromString("0.03")))
	assert.Equal(t, MustParseMoney("40.00"), amount.MulRate(decimal.RequireFromString("0.20")))

	// 33.33 * 0.03 = 0.9999 -> 1.00
	assert.Equal(t, MustParseMoney("1.00"), MustParseMoney("33.33").MulRate(decimal.RequireFromString("0.03")))
	// 0.50 * 0.03 = 0.015 -> 0.02
	assert.Equal(t, MustParseMoney("0.02"), MustParseMoney("0.50").MulRate(decimal.RequireFromString("0.03")))
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(MustParseMoney("6"))
	require.NoError(t, err)
	assert.Equal(t, `"6.00"`, string(b))

	var fromString, fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`"12.50"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`12.5`), &fromNumber))
	assert.Equal(t, Money(1250), fromString)
	assert.Equal(t, fromString, fromNumber)

	var bad Money
	assert.Error(t, json.Unmarshal([]byte(`"1.234"`), &bad))
}
