package gateway

//go:generate mockgen -source=client.go -destination=mock_client.go -package=gateway

import (
	"context"
	"errors"

	"github.com/ayo6706/wallet-settlement/internal/domain"
)

// ErrRejected is a definitive 4xx answer from the gateway. It is never retried.
var ErrRejected = errors.New("gateway rejected request")

// CollectionRequest charges a customer's mobile-money account.
type CollectionRequest struct {
	Phone     string
	Amount    domain.Money
	Reference string
}

// PayoutRequest sends money to a mobile-money account.
type PayoutRequest struct {
	Phone     string
	Amount    domain.Money
	Reference string
}

// TransactionStatus is the gateway's view of an earlier request.
// Status is one of domain.QueryPending, domain.QuerySuccess or domain.QueryFailed.
type TransactionStatus struct {
	Status     string
	ResultCode string
	ResultDesc string
	Receipt    string
}

// Client is the mobile-money gateway. Every call is time-bounded; failures
// that survive the retry budget wrap domain.ErrGatewayUnavailable.
type Client interface {
	GetAccessToken(ctx context.Context) (string, error)
	InitiateCollection(ctx context.Context, req CollectionRequest) (string, error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (string, error)
	QueryTransactionStatus(ctx context.Context, correlationID string) (TransactionStatus, error)
}
