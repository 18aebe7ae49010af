package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionSource_SameIDDifferentKindsAreDistinct(t *testing.T) {
	id := uuid.New()
	ecommerce := EcommerceOrderRef(id)
	service := ServiceOrderRef(id)

	assert.NotEqual(t, ecommerce, service)
	assert.NotEqual(t, ecommerce.String(), service.String())
}

func TestCommissionSource_Validate(t *testing.T) {
	require.NoError(t, NoSource().Validate())
	require.NoError(t, EcommerceOrderRef(uuid.New()).Validate())
	require.Error(t, CommissionSource{Kind: SourceServiceOrder}.Validate())
	require.Error(t, CommissionSource{Kind: SourceNone, OrderID: uuid.New()}.Validate())
	require.Error(t, CommissionSource{Kind: "invoice", OrderID: uuid.New()}.Validate())
}

func TestParseOrderKind(t *testing.T) {
	kind, err := ParseOrderKind("service")
	require.NoError(t, err)
	assert.Equal(t, SourceServiceOrder, kind)

	_, err = ParseOrderKind("subscription")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
