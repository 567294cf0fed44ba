package store

import (
	"context"
	"testing"
)

func TestStoreInfo(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	seedContent(t, f.st, "audio/aac")

	mustWrite(t, f.st, func(tx WriteTx) error {
		_, err := References{}.Create(ctx, tx, f.linkPreview(f.msgA), f.content)
		return err
	})

	info, err := f.st.StoreInfo(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.SchemaVersion == 0 {
		t.Fatal("expected non-zero schema version")
	}
	if info.Messages != 2 {
		t.Fatalf("expected 2 messages, got %d", info.Messages)
	}
	if info.Contents != 2 || info.References != 1 {
		t.Fatalf("expected 2 contents and 1 reference, got %#v", info)
	}
	if info.UnreferencedContents != 1 {
		t.Fatalf("expected 1 unreferenced content, got %d", info.UnreferencedContents)
	}
}
