package models

import "testing"

func TestPriorRevisionCopy_IsIndependentStructuralCopy(t *testing.T) {
	msg := &Message{
		RowID:               10,
		UniqueID:            "m-1",
		ThreadRowID:         3,
		Body:                "hello",
		EditState:           EditStateLatestRevision,
		LegacyAttachmentIDs: []string{"a", "b"},
		QuotedReply:         &QuotedReply{Body: "quoted", ThumbnailLegacyID: "q"},
		LinkPreview:         &LinkPreview{URL: "https://example.com", ImageLegacyID: "lp"},
	}

	prior := msg.PriorRevisionCopy("m-1-prior")
	if prior.RowID != 0 {
		t.Fatalf("expected uninserted copy, got row id %d", prior.RowID)
	}
	if prior.EditState != EditStatePastRevision || prior.LatestRevisionRowID != 10 {
		t.Fatalf("unexpected edit bookkeeping: %#v", prior)
	}
	if prior.Body != "hello" || prior.QuotedReply.ThumbnailLegacyID != "q" {
		t.Fatalf("expected copied body and quoted reply, got %#v", prior)
	}

	prior.LegacyAttachmentIDs[0] = "changed"
	prior.LinkPreview.ImageLegacyID = ""
	if msg.LegacyAttachmentIDs[0] != "a" || msg.LinkPreview.ImageLegacyID != "lp" {
		t.Fatal("mutating the copy must not affect the original")
	}
}

func TestHasLegacyAttachments(t *testing.T) {
	if (&Message{}).HasLegacyAttachments() {
		t.Fatal("empty message has no legacy attachments")
	}
	if !(&Message{Sticker: &StickerInfo{LegacyID: "s"}}).HasLegacyAttachments() {
		t.Fatal("sticker legacy id must count")
	}
	if (&Message{LinkPreview: &LinkPreview{URL: "https://x.test"}}).HasLegacyAttachments() {
		t.Fatal("link preview without legacy image must not count")
	}
}

func TestAllLegacyIDs_Dedupes(t *testing.T) {
	msg := &Message{
		LegacyAttachmentIDs: []string{"a", " a ", "b"},
		QuotedReply:         &QuotedReply{ThumbnailLegacyID: "b"},
		Contact:             &ContactShare{AvatarLegacyID: "c"},
	}
	got := msg.AllLegacyIDs()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestContentTypeForMime(t *testing.T) {
	tests := map[string]ContentType{
		"image/png":  ContentTypeImage,
		"image/gif":  ContentTypeAnimatedImage,
		"video/mp4":  ContentTypeVideo,
		"audio/aac":  ContentTypeAudio,
		"text/plain": ContentTypeFile,
		"":           ContentTypeFile,
	}
	for mime, want := range tests {
		if got := ContentTypeForMime(mime); got != want {
			t.Fatalf("%q: expected %s, got %s", mime, want, got)
		}
	}
}
