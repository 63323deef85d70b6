package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

var ErrTransactionNotFound = goerr.New("transaction not found")

// Repository keeps the index of persisted transactions
type Repository interface {
	// PutTransaction creates or replaces the index entry
	PutTransaction(ctx context.Context, rec *model.TransactionRecord) error

	// GetTransaction returns ErrTransactionNotFound when name is unknown
	GetTransaction(ctx context.Context, name string) (*model.TransactionRecord, error)

	// ListTransactions returns entries, most recently updated first
	ListTransactions(ctx context.Context, offset, limit int) ([]*model.TransactionRecord, error)
}
