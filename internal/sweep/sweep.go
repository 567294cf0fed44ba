// Package sweep deletes attachment content that nothing references anymore.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/store"
)

const (
	// DefaultBatchSize is used when Run gets a batch size <= 0.
	DefaultBatchSize = 500

	// DefaultBlobGrace keeps bytes that were put this recently. An upload
	// prepares its bytes before its content row commits, so a fresh blob may
	// belong to a pending insert.
	DefaultBlobGrace = 15 * time.Minute
)

// Result reports one sweep run.
type Result struct {
	CandidateCount     int   `json:"candidate_count" yaml:"candidate_count"`
	DeletedCount       int   `json:"deleted_count" yaml:"deleted_count"`
	FailedCount        int   `json:"failed_count" yaml:"failed_count"`
	ReclaimedBytes     int64 `json:"reclaimed_bytes" yaml:"reclaimed_bytes"`
	LegacyOrphanCount  int   `json:"legacy_orphan_count" yaml:"legacy_orphan_count"`
	LegacyRowsDeleted  int   `json:"legacy_rows_deleted" yaml:"legacy_rows_deleted"`
	BlobDeleteFailures int   `json:"blob_delete_failures" yaml:"blob_delete_failures"`
	BlobsRetained      int   `json:"blobs_retained" yaml:"blobs_retained"`
	DryRun             bool  `json:"dry_run" yaml:"dry_run"`
}

// Options configures a Sweeper.
type Options struct {
	Logger *slog.Logger
	// BlobGrace is how long after its last put a blob is kept. Zero uses
	// DefaultBlobGrace.
	BlobGrace time.Duration
}

// Sweeper removes zero-reference content rows and their bytes.
type Sweeper struct {
	st    *store.Store
	blobs blobstore.BlobStore
	grace time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// New returns a sweeper. blobs may be nil, in which case bytes are left on disk.
func New(st *store.Store, blobs blobstore.BlobStore, logger *slog.Logger) *Sweeper {
	return NewWithOptions(st, blobs, Options{Logger: logger})
}

// NewWithOptions returns a sweeper configured by opts.
func NewWithOptions(st *store.Store, blobs blobstore.BlobStore, opts Options) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.BlobGrace
	if grace <= 0 {
		grace = DefaultBlobGrace
	}
	return &Sweeper{st: st, blobs: blobs, grace: grace, log: logger, now: time.Now}
}

// Run sweeps unreferenced content. Without apply it only reports what would
// be deleted. With apply, legacy rows no message lists are removed first so
// the content they pinned becomes collectable in the same run.
func (s *Sweeper) Run(ctx context.Context, batchSize int, apply bool) (Result, error) {
	result := Result{DryRun: !apply}
	if s == nil || s.st == nil {
		return result, fmt.Errorf("sweeper is not configured")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if !apply {
		err := s.st.Read(ctx, func(tx store.ReadTx) error {
			orphans, err := store.LegacyAttachments{}.ListOrphans(ctx, tx, 0)
			if err != nil {
				return err
			}
			result.LegacyOrphanCount = len(orphans)
			contents, err := store.Contents{}.ListUnreferenced(ctx, tx, 0)
			if err != nil {
				return err
			}
			result.CandidateCount = len(contents)
			for _, c := range contents {
				result.ReclaimedBytes += c.ByteCount
			}
			return nil
		})
		return result, err
	}

	if err := s.deleteLegacyOrphans(ctx, batchSize, &result); err != nil {
		return result, err
	}

	failed := map[int64]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var batch []int64
		err := s.st.Read(ctx, func(tx store.ReadTx) error {
			contents, err := store.Contents{}.ListUnreferenced(ctx, tx, batchSize+len(failed))
			if err != nil {
				return err
			}
			for _, c := range contents {
				if !failed[c.ID] {
					batch = append(batch, c.ID)
				}
			}
			return nil
		})
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}
		result.CandidateCount += len(batch)
		for _, id := range batch {
			if !s.deleteContent(ctx, id, &result) {
				failed[id] = true
			}
		}
	}
	s.log.Info("attachment content sweep finished",
		"candidates", result.CandidateCount, "deleted", result.DeletedCount,
		"failed", result.FailedCount, "reclaimed_bytes", result.ReclaimedBytes,
		"legacy_rows_deleted", result.LegacyRowsDeleted, "blobs_retained", result.BlobsRetained)
	return result, nil
}

func (s *Sweeper) deleteLegacyOrphans(ctx context.Context, batchSize int, result *Result) error {
	for {
		deleted := 0
		err := s.st.Write(ctx, func(tx store.WriteTx) error {
			orphans, err := store.LegacyAttachments{}.ListOrphans(ctx, tx, batchSize)
			if err != nil {
				return err
			}
			result.LegacyOrphanCount += len(orphans)
			for _, att := range orphans {
				ok, err := store.LegacyAttachments{}.Delete(ctx, tx, att.UniqueID)
				if err != nil {
					return err
				}
				if ok {
					deleted++
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete orphan legacy attachments: %w", err)
		}
		result.LegacyRowsDeleted += deleted
		if deleted < batchSize {
			return nil
		}
	}
}

// deleteContent removes one content row in its own transaction and then its
// bytes, unless another row shares them. It reports whether the row is gone
// or was found to be referenced again.
func (s *Sweeper) deleteContent(ctx context.Context, id int64, result *Result) bool {
	var (
		deleted bool
		key     string
		size    int64
	)
	err := s.st.Write(ctx, func(tx store.WriteTx) error {
		c, err := store.Contents{}.Get(ctx, tx, id)
		if err != nil || c == nil {
			return err
		}
		key, size = c.LocalRelativePath, c.ByteCount
		deleted, err = store.Contents{}.DeleteIfUnreferenced(ctx, tx, id)
		return err
	})
	if err != nil {
		s.log.Warn("failed to delete attachment content", "content_id", id, "error", err)
		result.FailedCount++
		return false
	}
	if !deleted {
		s.log.Debug("attachment content referenced again; skipping", "content_id", id)
		return true
	}
	result.DeletedCount++
	result.ReclaimedBytes += size

	if key == "" || s.blobs == nil {
		return true
	}
	var users int
	err = s.st.Read(ctx, func(tx store.ReadTx) error {
		var err error
		users, err = store.Contents{}.CountByLocalPath(ctx, tx, key)
		return err
	})
	if err == nil && users == 0 {
		var gone bool
		gone, err = s.blobs.DeleteIfIdle(ctx, key, s.now().Add(-s.grace))
		if err == nil && !gone {
			s.log.Info("attachment bytes put recently; keeping them", "content_id", id, "key", key)
			result.BlobsRetained++
		}
	}
	if err != nil {
		s.log.Warn("failed to delete attachment bytes", "content_id", id, "key", key, "error", err)
		result.BlobDeleteFailures++
	}
	return true
}
