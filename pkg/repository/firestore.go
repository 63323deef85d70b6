package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const collectionTransactions = "transactions"

// Firestore implements Repository on a Firestore database
type Firestore struct {
	client *firestore.Client
}

// New connects to the given Firestore database
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutTransaction(ctx context.Context, rec *model.TransactionRecord) error {
	if rec == nil || rec.Name == "" {
		return goerr.New("transaction name is required")
	}
	if _, err := r.client.Collection(collectionTransactions).Doc(rec.Name).Set(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to put transaction", goerr.V("name", rec.Name))
	}
	return nil
}

func (r *Firestore) GetTransaction(ctx context.Context, name string) (*model.TransactionRecord, error) {
	doc, err := r.client.Collection(collectionTransactions).Doc(name).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrTransactionNotFound, "no such transaction", goerr.V("name", name))
		}
		return nil, goerr.Wrap(err, "failed to get transaction", goerr.V("name", name))
	}

	var rec model.TransactionRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode transaction", goerr.V("name", name))
	}
	return &rec, nil
}

func (r *Firestore) ListTransactions(ctx context.Context, offset, limit int) ([]*model.TransactionRecord, error) {
	q := r.client.Collection(collectionTransactions).OrderBy("updated_at", firestore.Desc).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []*model.TransactionRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list transactions")
		}
		var rec model.TransactionRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, goerr.Wrap(err, "failed to decode transaction", goerr.V("id", doc.Ref.ID))
		}
		records = append(records, &rec)
	}
	return records, nil
}
