package model

import "time"

// TransactionRecord is the index entry of a persisted simulation
// transaction. The transaction body lives in object storage under
// StorageKey.
type TransactionRecord struct {
	Name        string    `json:"name" firestore:"name"`
	StorageKey  string    `json:"storage_key" firestore:"storage_key"`
	Checkpoints int       `json:"checkpoints" firestore:"checkpoints"`
	LastSeq     int       `json:"last_seq" firestore:"last_seq"`
	CreatedAt   time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updated_at"`
}
