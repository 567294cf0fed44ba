package sweep

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/content"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

type fixture struct {
	st       *store.Store
	cas      *blobstore.LocalCAS
	blobDir  string
	ingester *content.Ingester
	threadID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	blobDir := filepath.Join(dir, "blobs")
	cas, err := blobstore.NewLocalCAS(blobDir)
	if err != nil {
		t.Fatalf("new cas: %v", err)
	}
	f := &fixture{st: st, cas: cas, blobDir: blobDir, ingester: content.NewIngester(cas, content.Options{})}
	f.write(t, func(tx store.WriteTx) error {
		var err error
		f.threadID, err = store.Messages{}.InsertThread(context.Background(), tx, &models.Thread{})
		return err
	})
	return f
}

func (f *fixture) write(t *testing.T, fn func(tx store.WriteTx) error) {
	t.Helper()
	if err := f.st.Write(context.Background(), fn); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// ageBlob moves the mtime of key before any grace window.
func (f *fixture) ageBlob(t *testing.T, key string) {
	t.Helper()
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(filepath.Join(f.blobDir, filepath.FromSlash(key)), old, old); err != nil {
		t.Fatalf("age blob: %v", err)
	}
}

// content stores data and inserts a content row for it. The blob is aged so
// sweeps do not treat it as a pending upload.
func (f *fixture) content(t *testing.T, data, mime string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	p, err := f.ingester.Prepare(ctx, strings.NewReader(data), mime)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	var id int64
	f.write(t, func(tx store.WriteTx) error {
		id, err = f.ingester.Insert(ctx, tx, p)
		return err
	})
	f.ageBlob(t, p.Key)
	return id, p.Key
}

func (f *fixture) exists(t *testing.T, id int64) bool {
	t.Helper()
	var c *models.AttachmentContent
	err := f.st.Read(context.Background(), func(tx store.ReadTx) error {
		var err error
		c, err = store.Contents{}.Get(context.Background(), tx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	return c != nil
}

func TestRunDeletesOnlyUnreferencedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keptID, keptKey := f.content(t, "kept", "image/png")
	goneID, goneKey := f.content(t, "gone", "image/png")

	f.write(t, func(tx store.WriteTx) error {
		msg := &models.Message{ThreadRowID: f.threadID}
		if _, err := (store.Messages{}).InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		_, err := store.NewReferences(nil).Create(ctx, tx, models.MessageBodyAttachment{
			MessageRowID: msg.RowID, ThreadRowID: f.threadID,
		}, keptID)
		return err
	})

	dry, err := New(f.st, f.cas, nil).Run(ctx, 10, false)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !dry.DryRun || dry.CandidateCount != 1 || dry.DeletedCount != 0 || dry.ReclaimedBytes != 4 {
		t.Fatalf("unexpected dry run result: %#v", dry)
	}
	if !f.exists(t, goneID) {
		t.Fatalf("dry run must not delete content")
	}

	res, err := New(f.st, f.cas, nil).Run(ctx, 1, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DryRun || res.DeletedCount != 1 || res.FailedCount != 0 || res.ReclaimedBytes != 4 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if f.exists(t, goneID) || !f.exists(t, keptID) {
		t.Fatalf("wrong content deleted")
	}
	if _, err := f.cas.Size(ctx, goneKey); err == nil {
		t.Fatalf("bytes of deleted content should be removed")
	}
	if _, err := f.cas.Size(ctx, keptKey); err != nil {
		t.Fatalf("bytes of kept content should stay: %v", err)
	}
}

func TestRunKeepsBytesSharedByAnotherRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Same bytes under two mime types produce two rows sharing one blob.
	firstID, key := f.content(t, "same-bytes", "image/png")
	secondID, secondKey := f.content(t, "same-bytes", "application/octet-stream")
	if key != secondKey || firstID == secondID {
		t.Fatalf("expected two rows sharing one blob, got %d/%d %q/%q", firstID, secondID, key, secondKey)
	}
	f.write(t, func(tx store.WriteTx) error {
		msg := &models.Message{ThreadRowID: f.threadID}
		if _, err := (store.Messages{}).InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		_, err := store.NewReferences(nil).Create(ctx, tx, models.MessageBodyAttachment{
			MessageRowID: msg.RowID, ThreadRowID: f.threadID,
		}, secondID)
		return err
	})

	res, err := New(f.st, f.cas, nil).Run(ctx, 10, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DeletedCount != 1 || f.exists(t, firstID) {
		t.Fatalf("expected first row deleted: %#v", res)
	}
	if _, err := f.cas.Size(ctx, key); err != nil {
		t.Fatalf("shared bytes must stay: %v", err)
	}
}

func TestRunCollectsContentOfOrphanLegacyRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contentID, _ := f.content(t, "legacy", "image/jpeg")
	listedID, _ := f.content(t, "listed", "image/jpeg")

	f.write(t, func(tx store.WriteTx) error {
		orphan := &models.LegacyAttachment{ContentID: contentID, MimeType: "image/jpeg"}
		if err := (store.LegacyAttachments{}).Insert(ctx, tx, orphan); err != nil {
			return err
		}
		listed := &models.LegacyAttachment{ContentID: listedID, MimeType: "image/jpeg"}
		if err := (store.LegacyAttachments{}).Insert(ctx, tx, listed); err != nil {
			return err
		}
		_, err := (store.Messages{}).InsertMessage(ctx, tx, &models.Message{
			ThreadRowID: f.threadID, LegacyAttachmentIDs: []string{listed.UniqueID},
		})
		return err
	})

	dry, err := New(f.st, f.cas, nil).Run(ctx, 10, false)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.LegacyOrphanCount != 1 || dry.CandidateCount != 0 {
		t.Fatalf("unexpected dry run: %#v", dry)
	}

	res, err := New(f.st, f.cas, nil).Run(ctx, 10, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.LegacyRowsDeleted != 1 || res.DeletedCount != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if f.exists(t, contentID) || !f.exists(t, listedID) {
		t.Fatalf("only the orphan's content should be deleted")
	}
}

func TestRunCountsBlobDeleteFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.content(t, "stuck", "image/png")

	res, err := New(f.st, failingDeleteBlobStore{}, nil).Run(ctx, 1, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DeletedCount != 1 || res.BlobDeleteFailures != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if f.exists(t, id) {
		t.Fatalf("content row should be deleted even when bytes remain")
	}
}

func TestRunKeepsBytesOfPendingUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staleID, key := f.content(t, "same bytes", "image/png")

	// An upload of the same bytes is prepared but its row is not committed yet.
	pending, err := f.ingester.Prepare(ctx, strings.NewReader("same bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if pending.Key != key {
		t.Fatalf("expected pending upload to share key %q, got %q", key, pending.Key)
	}

	res, err := New(f.st, f.cas, nil).Run(ctx, 10, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DeletedCount != 1 || res.BlobsRetained != 1 || res.BlobDeleteFailures != 0 || f.exists(t, staleID) {
		t.Fatalf("expected stale row deleted and bytes kept: %#v", res)
	}

	var newID int64
	f.write(t, func(tx store.WriteTx) error {
		msg := &models.Message{ThreadRowID: f.threadID}
		if _, err := (store.Messages{}).InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if newID, err = f.ingester.Insert(ctx, tx, pending); err != nil {
			return err
		}
		_, err := store.NewReferences(nil).Create(ctx, tx, models.MessageBodyAttachment{
			MessageRowID: msg.RowID, ThreadRowID: f.threadID,
		}, newID)
		return err
	})
	rc, err := f.cas.Open(ctx, pending.Key)
	if err != nil {
		t.Fatalf("referenced content %d has no bytes: %v", newID, err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "same bytes" {
		t.Fatalf("unexpected bytes %q", data)
	}

	// Once idle and unreferenced elsewhere, a later sweep may drop the file.
	f.ageBlob(t, key)
	if res, err := New(f.st, f.cas, nil).Run(ctx, 10, true); err != nil || res.DeletedCount != 0 {
		t.Fatalf("referenced content must survive: %#v (%v)", res, err)
	}
	if _, err := f.cas.Size(ctx, key); err != nil {
		t.Fatalf("referenced bytes must stay: %v", err)
	}
}

type failingDeleteBlobStore struct{}

func (failingDeleteBlobStore) Put(context.Context, io.Reader) (blobstore.PutResult, error) {
	return blobstore.PutResult{}, errors.New("not implemented")
}

func (failingDeleteBlobStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (failingDeleteBlobStore) Size(context.Context, string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (failingDeleteBlobStore) Delete(context.Context, string) error {
	return errors.New("delete failed")
}

func (failingDeleteBlobStore) DeleteIfIdle(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("delete failed")
}
