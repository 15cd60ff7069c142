package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GCSStore adapts a GCS bucket to the blob.Store contract.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket)}
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	return s.write(ctx, s.bucket.Object(path), path, data, contentType)
}

// PutIfAbsent writes the object only if it doesn't already exist. An
// object that is already there is not a failure in an idempotent
// workflow; GCS signals it with a 412 precondition error, which we skip.
func (s *GCSStore) PutIfAbsent(ctx context.Context, path string, data []byte, contentType string) error {
	obj := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true})
	err := s.write(ctx, obj, path, data, contentType)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		slog.Info("SKIPPING: object already exists.", "gcsObject", path)
		return nil
	}
	return err
}

func (s *GCSStore) write(ctx context.Context, obj *storage.ObjectHandle, path string, data []byte, contentType string) error {
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write for %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, string, error) {
	reader, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get GCS object reader for %s: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read GCS object %s: %w", path, err)
	}
	return data, reader.Attrs.ContentType, nil
}

func (s *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.bucket.Object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat GCS object %s: %w", path, err)
	}
	return true, nil
}
