package content

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

func testIngester(t *testing.T) (*Ingester, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cas, err := blobstore.NewLocalCAS(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("new cas: %v", err)
	}
	return NewIngester(cas, Options{MaxOversizeTextBytes: 64}), st
}

func TestPrepareAndInsertDedupes(t *testing.T) {
	ing, st := testIngester(t)
	ctx := context.Background()

	first, err := ing.Prepare(ctx, strings.NewReader("png-bytes"), "IMAGE/PNG")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if first.MimeType != "image/png" || first.ContentType != models.ContentTypeImage {
		t.Fatalf("unexpected pending: %#v", first)
	}
	if len(first.EncryptionKey) != encryptionKeySize {
		t.Fatalf("expected %d byte key, got %d", encryptionKeySize, len(first.EncryptionKey))
	}
	second, err := ing.Prepare(ctx, strings.NewReader("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("prepare second: %v", err)
	}

	var ids [2]int64
	err = st.Write(ctx, func(tx store.WriteTx) error {
		var err error
		if ids[0], err = ing.Insert(ctx, tx, first); err != nil {
			return err
		}
		ids[1], err = ing.Insert(ctx, tx, second)
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected identical data to share a content row, got %v", ids)
	}

	err = st.Read(ctx, func(tx store.ReadTx) error {
		content, err := store.Contents{}.Get(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		if !content.IsDownloaded() || content.ByteCount != int64(len("png-bytes")) {
			t.Fatalf("unexpected content row %#v", content)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestPrepareTextLimits(t *testing.T) {
	ing, _ := testIngester(t)
	ctx := context.Background()

	if _, err := ing.PrepareText(ctx, "   "); err == nil {
		t.Fatal("expected empty text to be rejected")
	}
	if _, err := ing.PrepareText(ctx, strings.Repeat("x", 65)); err == nil {
		t.Fatal("expected text over the limit to be rejected")
	}
	pending, err := ing.PrepareText(ctx, "long body")
	if err != nil {
		t.Fatalf("prepare text: %v", err)
	}
	if pending.MimeType != models.OversizeTextMimeType {
		t.Fatalf("expected oversize text mime, got %q", pending.MimeType)
	}
}

func TestInsertPointerCreatesUndownloadedContent(t *testing.T) {
	ing, st := testIngester(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		ptr     models.AttachmentPointer
		wantErr bool
	}{
		{"valid", models.AttachmentPointer{CDNKey: "cdn/1", CDNNumber: 3, Key: []byte{1}, Size: 10, ContentType: "video/mp4"}, false},
		{"missing cdn key", models.AttachmentPointer{Key: []byte{1}}, true},
		{"missing key", models.AttachmentPointer{CDNKey: "cdn/2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id int64
			err := st.Write(ctx, func(tx store.WriteTx) error {
				var err error
				id, err = ing.InsertPointer(ctx, tx, tt.ptr)
				return err
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("insert pointer: %v", err)
			}
			err = st.Read(ctx, func(tx store.ReadTx) error {
				content, err := store.Contents{}.Get(ctx, tx, id)
				if err != nil {
					return err
				}
				if content.IsDownloaded() || content.ContentType != models.ContentTypeUnknown || content.CDNNumber != 3 {
					t.Fatalf("unexpected pointer content %#v", content)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("read: %v", err)
			}
		})
	}
}

func TestDiscardKeepsSharedBlob(t *testing.T) {
	ing, st := testIngester(t)
	ctx := context.Background()

	committed, err := ing.Prepare(ctx, strings.NewReader("shared"), "image/png")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := st.Write(ctx, func(tx store.WriteTx) error {
		_, err := ing.Insert(ctx, tx, committed)
		return err
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	abandoned, err := ing.Prepare(ctx, strings.NewReader("shared"), "image/png")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := ing.Discard(ctx, st, abandoned); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := ing.blobs.Size(ctx, committed.Key); err != nil {
		t.Fatalf("expected shared blob to survive discard: %v", err)
	}

	lonely, err := ing.Prepare(ctx, strings.NewReader("lonely"), "image/png")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := ing.Discard(ctx, st, lonely); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := ing.blobs.Size(ctx, lonely.Key); err == nil {
		t.Fatal("expected unused blob to be removed")
	}
}
