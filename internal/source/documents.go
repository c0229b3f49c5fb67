package source

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"
)

// DocumentStore keeps uploaded source documents in a blob bucket.
type DocumentStore struct {
	Bucket   *blob.Bucket
	Attempts uint
}

// OpenDocumentStore opens the bucket at bucketURL, for example
// "file:///var/lib/devlift/documents?create_dir=1" or "mem://".
func OpenDocumentStore(ctx context.Context, bucketURL string) (*DocumentStore, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open document bucket: %w", err)
	}
	return NewDocumentStore(b), nil
}

// NewDocumentStore wraps an already opened bucket.
func NewDocumentStore(b *blob.Bucket) *DocumentStore {
	return &DocumentStore{Bucket: b, Attempts: 3}
}

// Put writes data under key.
func (s *DocumentStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.Bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Read returns the bytes stored under key, retrying transient failures.
// A missing key yields ErrNotFound without retries.
func (s *DocumentStore) Read(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			b, err := s.Bucket.ReadAll(ctx, key)
			if err == nil {
				return b, nil
			}
			if gcerrors.Code(err) == gcerrors.NotFound {
				return nil, retry.Unrecoverable(fmt.Errorf("%w: %s", ErrNotFound, key))
			}
			return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, key, err)
		},
		retry.Attempts(max(1, s.Attempts)),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("retry_number", n).
				Msg("retrying document read")
		}),
	)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *DocumentStore) Delete(ctx context.Context, key string) error {
	err := s.Bucket.Delete(ctx, key)
	if err == nil || gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
}

// Close releases the bucket.
func (s *DocumentStore) Close() error {
	return s.Bucket.Close()
}
