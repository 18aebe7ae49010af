package service

import (
	"context"

	"github.com/ayo6706/wallet-settlement/internal/repository"
)

// QueryStore is what services need from persistence. *repository.Store and
// memstore.Store both satisfy it.
//
// Inside a RunInTx callback use only the querier passed in. Calling Queries
// there escapes the transaction and, on Postgres, can deadlock on the row
// locks the transaction already holds.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}
