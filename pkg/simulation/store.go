package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/repository"
)

// loadTransaction reads the transaction body from storage. It returns nil
// without error when nothing was persisted under name.
func loadTransaction(ctx context.Context, storage adapter.Storage, key string) (*Transaction, error) {
	reader, err := storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get transaction from storage", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read transaction data", goerr.V("key", key))
	}

	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, goerr.Wrap(model.ErrSnapshotCorrupted, "failed to unmarshal transaction",
			goerr.V("key", key), goerr.V("error", err.Error()))
	}
	for i, cp := range tx.Checkpoints {
		if cp.Seq != i {
			return nil, goerr.Wrap(model.ErrSnapshotCorrupted, "checkpoints out of order",
				goerr.V("key", key), goerr.V("index", i), goerr.V("seq", cp.Seq))
		}
	}
	return &tx, nil
}

// saveTransaction writes the body to storage, then its index entry to the
// repository.
func saveTransaction(ctx context.Context, repo repository.Repository, storage adapter.Storage, key string, tx *Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal transaction", goerr.V("name", tx.Name))
	}

	writer, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write transaction to storage", goerr.V("key", key))
	}
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}

	rec := &model.TransactionRecord{
		Name:        tx.Name,
		StorageKey:  key,
		Checkpoints: len(tx.Checkpoints),
		LastSeq:     -1,
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
	}
	if last := tx.Latest(); last != nil {
		rec.LastSeq = last.Seq
	}
	if err := repo.PutTransaction(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to put transaction to repository", goerr.V("name", tx.Name))
	}
	return nil
}
