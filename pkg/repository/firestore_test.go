package repository_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/repository"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.New(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func randomName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), rand.Intn(10000))
}

func testRepository(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := &model.TransactionRecord{
		Name:        randomName("older"),
		StorageKey:  "transactions/older.json",
		Checkpoints: 2,
		LastSeq:     1,
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now.Add(-time.Minute),
	}
	newer := &model.TransactionRecord{
		Name:        randomName("newer"),
		StorageKey:  "transactions/newer.json",
		Checkpoints: 1,
		CreatedAt:   now,
		UpdatedAt:   now.Add(time.Hour),
	}
	gt.NoError(t, repo.PutTransaction(ctx, older))
	gt.NoError(t, repo.PutTransaction(ctx, newer))

	got, err := repo.GetTransaction(ctx, older.Name)
	gt.NoError(t, err)
	gt.Equal(t, got.StorageKey, older.StorageKey)
	gt.Equal(t, got.Checkpoints, 2)
	gt.True(t, got.UpdatedAt.Equal(older.UpdatedAt))

	older.Checkpoints = 3
	gt.NoError(t, repo.PutTransaction(ctx, older))
	got, err = repo.GetTransaction(ctx, older.Name)
	gt.NoError(t, err)
	gt.Equal(t, got.Checkpoints, 3)

	_, err = repo.GetTransaction(ctx, randomName("missing"))
	gt.True(t, errors.Is(err, repository.ErrTransactionNotFound))

	list, err := repo.ListTransactions(ctx, 0, 1)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)
	gt.Equal(t, list[0].Name, newer.Name)

	gt.Error(t, repo.PutTransaction(ctx, &model.TransactionRecord{}))
}

func TestMemory(t *testing.T) {
	testRepository(t, repository.NewMemory())
}

func TestMemoryListPaging(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		gt.NoError(t, repo.PutTransaction(ctx, &model.TransactionRecord{Name: name, UpdatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	list, err := repo.ListTransactions(ctx, 1, 0)
	gt.NoError(t, err)
	gt.A(t, list).Length(2)
	gt.Equal(t, list[0].Name, "b")
	gt.Equal(t, list[1].Name, "a")

	list, err = repo.ListTransactions(ctx, 5, 10)
	gt.NoError(t, err)
	gt.A(t, list).Length(0)
}

func TestFirestore(t *testing.T) {
	testRepository(t, setupFirestore(t))
}
