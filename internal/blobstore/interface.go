package blobstore

import (
	"context"
	"io"
	"time"
)

// PutResult describes one persisted attachment payload.
type PutResult struct {
	// Digest is the hex BLAKE2b-256 of the bytes written.
	Digest    string
	SizeBytes int64
	// Key is the relative path stored as the content row's local path.
	Key string
}

// BlobStore holds attachment bytes outside the database. Callers must not
// invoke it inside a database transaction.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (PutResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfIdle removes key unless it was written or re-put after
	// idleSince. It reports whether the blob is gone.
	DeleteIfIdle(ctx context.Context, key string, idleSince time.Time) (bool, error)
}
