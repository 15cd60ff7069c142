package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dkoutas/invoiceflow/internal/store"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreStore adapts a Firestore client to the store.Store contract.
// Record paths map directly onto Firestore document paths.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Get(ctx context.Context, path string, dest any) (bool, error) {
	snap, err := s.client.Doc(path).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	if err := snap.DataTo(dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, value any) error {
	if _, err := s.client.Doc(path).Set(ctx, value); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) SetMerge(ctx context.Context, path string, fields map[string]any) error {
	if _, err := s.client.Doc(path).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(&firestoreTx{client: s.client, tx: t})
	})
}

// firestoreTx wraps a Firestore transaction. Firestore requires all
// reads to precede writes within a transaction; every transaction in
// this codebase reads first.
type firestoreTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTx) Get(path string, dest any) (bool, error) {
	snap, err := t.tx.Get(t.client.Doc(path))
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tx get %s: %w", path, err)
	}
	if err := snap.DataTo(dest); err != nil {
		return false, fmt.Errorf("tx decode %s: %w", path, err)
	}
	return true, nil
}

func (t *firestoreTx) Set(path string, value any) error {
	return t.tx.Set(t.client.Doc(path), value)
}

func (t *firestoreTx) SetMerge(path string, fields map[string]any) error {
	return t.tx.Set(t.client.Doc(path), fields, firestore.MergeAll)
}
