package resource

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/content"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

type fixture struct {
	st       *store.Store
	facade   *Facade
	threadID int64
}

func newFixture(t *testing.T, graphWrites bool) fixture {
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
	f := fixture{st: st, facade: New(content.NewIngester(cas, content.Options{}), Options{GraphWrites: graphWrites})}
	f.write(t, func(tx store.WriteTx) error {
		var err error
		f.threadID, err = store.Messages{}.InsertThread(context.Background(), tx, &models.Thread{})
		return err
	})
	return f
}

func (f fixture) write(t *testing.T, fn func(tx store.WriteTx) error) {
	t.Helper()
	if err := f.st.Write(context.Background(), fn); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (f fixture) read(t *testing.T, fn func(tx store.ReadTx) error) {
	t.Helper()
	if err := f.st.Read(context.Background(), fn); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func (f fixture) message(t *testing.T, msg *models.Message) *models.Message {
	t.Helper()
	msg.ThreadRowID = f.threadID
	f.write(t, func(tx store.WriteTx) error {
		_, err := store.Messages{}.InsertMessage(context.Background(), tx, msg)
		return err
	})
	return msg
}

func (f fixture) content(t *testing.T, mime string) int64 {
	t.Helper()
	var id int64
	f.write(t, func(tx store.WriteTx) error {
		var err error
		id, err = store.Contents{}.Insert(context.Background(), tx, &models.AttachmentContent{
			ContentType: models.ContentTypeForMime(mime), MimeType: mime, EncryptionKey: []byte{1},
		})
		return err
	})
	return id
}

func TestWritesFollowGraphFlag(t *testing.T) {
	tests := []struct {
		name        string
		graphWrites bool
		want        Representation
	}{
		{"graph", true, RepresentationGraph},
		{"legacy", false, RepresentationLegacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.graphWrites)
			ctx := context.Background()
			msg := f.message(t, &models.Message{Body: "hi"})
			c1 := f.content(t, "image/png")
			c2 := f.content(t, "video/mp4")
			preview := f.content(t, "image/jpeg")

			f.write(t, func(tx store.WriteTx) error {
				refs, err := f.facade.AddBodyAttachments(ctx, tx, msg, []BodyAttachment{{ContentID: c1, Caption: "one"}, {ContentID: c2}})
				if err != nil {
					return err
				}
				if len(refs) != 2 || refs[0].Representation != tt.want {
					t.Fatalf("unexpected refs %#v", refs)
				}
				_, err = f.facade.AttachLinkPreview(ctx, tx, msg, preview)
				return err
			})

			f.read(t, func(tx store.ReadTx) error {
				reloaded, err := store.Messages{}.GetMessage(ctx, tx, msg.RowID)
				if err != nil {
					return err
				}
				body, err := f.facade.BodyAttachments(ctx, tx, reloaded)
				if err != nil {
					return err
				}
				if len(body) != 2 {
					t.Fatalf("expected 2 body attachments, got %d", len(body))
				}
				if body[0].ContentID != c1 || body[0].Caption != "one" || body[0].OrderInOwner != 0 {
					t.Fatalf("unexpected first body attachment %#v", body[0])
				}
				if body[1].ContentID != c2 || body[1].OrderInOwner != 1 {
					t.Fatalf("unexpected second body attachment %#v", body[1])
				}
				lp, err := f.facade.LinkPreviewAttachment(ctx, tx, reloaded)
				if err != nil {
					return err
				}
				if lp == nil || lp.ContentID != preview || lp.Representation != tt.want {
					t.Fatalf("unexpected link preview %#v", lp)
				}
				c, err := lp.Content(ctx, tx)
				if err != nil {
					return err
				}
				if c.MimeType != "image/jpeg" {
					t.Fatalf("expected lazily fetched jpeg content, got %q", c.MimeType)
				}
				all, err := f.facade.AllReferences(ctx, tx, reloaded)
				if err != nil {
					return err
				}
				if len(all) != 3 {
					t.Fatalf("expected 3 references, got %d", len(all))
				}
				return nil
			})
		})
	}
}

func TestLegacyMessagesKeepLegacyWrites(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	msg := f.message(t, &models.Message{Sticker: &models.StickerInfo{PackID: []byte{1}, StickerID: 4, LegacyID: "old-sticker"}})
	c := f.content(t, "image/png")

	if f.facade.WritesToGraph(msg) {
		t.Fatal("message with legacy ids must not write to the graph")
	}
	f.write(t, func(tx store.WriteTx) error {
		refs, err := f.facade.AddBodyAttachments(ctx, tx, msg, []BodyAttachment{{ContentID: c}})
		if err != nil {
			return err
		}
		if refs[0].Representation != RepresentationLegacy {
			t.Fatalf("expected legacy write, got %s", refs[0].Representation)
		}
		return nil
	})
}

func TestWritesRequireInsertedMessage(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	c := f.content(t, "image/png")

	err := f.st.Write(ctx, func(tx store.WriteTx) error {
		_, err := f.facade.AttachLinkPreview(ctx, tx, &models.Message{ThreadRowID: f.threadID}, c)
		return err
	})
	if !errors.Is(err, models.ErrUninsertedOwner) {
		t.Fatalf("expected ErrUninsertedOwner, got %v", err)
	}
}

func TestRemoveBodyAttachment(t *testing.T) {
	for _, graph := range []bool{true, false} {
		f := newFixture(t, graph)
		ctx := context.Background()
		msg := f.message(t, &models.Message{})
		c1, c2 := f.content(t, "image/png"), f.content(t, "image/png")

		f.write(t, func(tx store.WriteTx) error {
			refs, err := f.facade.AddBodyAttachments(ctx, tx, msg, []BodyAttachment{{ContentID: c1}, {ContentID: c2}})
			if err != nil {
				return err
			}
			return f.facade.RemoveBodyAttachment(ctx, tx, msg, refs[0])
		})

		f.read(t, func(tx store.ReadTx) error {
			body, err := f.facade.BodyAttachments(ctx, tx, msg)
			if err != nil {
				return err
			}
			if len(body) != 1 || body[0].ContentID != c2 {
				t.Fatalf("graph=%v: expected only c2 to remain, got %#v", graph, body)
			}
			if existing, err := (store.Contents{}).Get(ctx, tx, c1); err != nil || existing == nil {
				t.Fatalf("graph=%v: content must survive removal (%v)", graph, err)
			}
			return nil
		})
	}
}

func TestCreateAttachmentPointers(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	msg := f.message(t, &models.Message{})

	f.write(t, func(tx store.WriteTx) error {
		refs, err := f.facade.CreateAttachmentPointers(ctx, tx, msg, []models.AttachmentPointer{
			{CDNKey: "k1", Key: []byte{1}, Size: 10, ContentType: "image/png", Caption: "remote"},
		})
		if err != nil {
			return err
		}
		if len(refs) != 1 || refs[0].Caption != "remote" {
			t.Fatalf("unexpected refs %#v", refs)
		}
		c, err := refs[0].Content(ctx, tx)
		if err != nil {
			return err
		}
		if c.IsDownloaded() || c.ContentType != models.ContentTypeUnknown {
			t.Fatalf("expected undownloaded content, got %#v", c)
		}
		return nil
	})
}

func TestCreateQuotedReplyThumbnailSharesContent(t *testing.T) {
	for _, graph := range []bool{true, false} {
		f := newFixture(t, graph)
		ctx := context.Background()
		original := f.message(t, &models.Message{Body: "photo"})
		reply := f.message(t, &models.Message{Body: "nice"})
		c := f.content(t, "image/png")

		f.write(t, func(tx store.WriteTx) error {
			if _, err := f.facade.AddBodyAttachments(ctx, tx, original, []BodyAttachment{{ContentID: c}}); err != nil {
				return err
			}
			thumb, err := f.facade.CreateQuotedReplyThumbnail(ctx, tx, reply, original)
			if err != nil {
				return err
			}
			if thumb == nil || thumb.ContentID != c {
				t.Fatalf("graph=%v: expected thumbnail sharing content %d, got %#v", graph, c, thumb)
			}
			return nil
		})

		f.read(t, func(tx store.ReadTx) error {
			reloaded, err := store.Messages{}.GetMessage(ctx, tx, reply.RowID)
			if err != nil {
				return err
			}
			thumb, err := f.facade.QuotedReplyThumbnail(ctx, tx, reloaded)
			if err != nil {
				return err
			}
			if thumb == nil || thumb.ContentID != c {
				t.Fatalf("graph=%v: expected persisted thumbnail, got %#v", graph, thumb)
			}
			info, err := f.st.StoreInfo(ctx)
			if err != nil {
				return err
			}
			if info.Contents != 1 {
				t.Fatalf("graph=%v: thumbnail must not copy content, have %d rows", graph, info.Contents)
			}
			return nil
		})
	}
}

func TestStoryAndThreadRoles(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	c := f.content(t, "video/mp4")
	var storyID int64

	f.write(t, func(tx store.WriteTx) error {
		var err error
		storyID, err = store.Messages{}.InsertStory(ctx, tx, &models.Story{})
		if err != nil {
			return err
		}
		if _, err := f.facade.AttachStoryMedia(ctx, tx, storyID, c, "clip", true); err != nil {
			return err
		}
		if _, err := f.facade.AttachStoryLinkPreview(ctx, tx, storyID, c); err != nil {
			return err
		}
		_, err = f.facade.AttachThreadWallpaper(ctx, tx, f.threadID, c)
		return err
	})

	f.read(t, func(tx store.ReadTx) error {
		media, err := f.facade.StoryMedia(ctx, tx, storyID)
		if err != nil {
			return err
		}
		if media == nil || media.Caption != "clip" || media.Flags != models.RenderingFlagShouldLoop {
			t.Fatalf("unexpected story media %#v", media)
		}
		lp, err := f.facade.StoryLinkPreview(ctx, tx, storyID)
		if err != nil || lp == nil {
			t.Fatalf("expected story link preview, got %#v (%v)", lp, err)
		}
		wp, err := f.facade.ThreadWallpaper(ctx, tx, f.threadID)
		if err != nil || wp == nil || wp.Representation != RepresentationGraph {
			t.Fatalf("expected graph wallpaper, got %#v (%v)", wp, err)
		}
		return nil
	})
}

func TestDuplicateOntoAndDetach(t *testing.T) {
	for _, graph := range []bool{true, false} {
		f := newFixture(t, graph)
		ctx := context.Background()
		source := f.message(t, &models.Message{})
		target := f.message(t, &models.Message{})
		c := f.content(t, "image/png")

		f.write(t, func(tx store.WriteTx) error {
			ref, err := f.facade.AttachContactAvatar(ctx, tx, source, c)
			if err != nil {
				return err
			}
			for range 2 {
				if err := f.facade.DuplicateOnto(ctx, tx, *ref, target); err != nil {
					return err
				}
			}
			got, err := f.facade.ContactAvatar(ctx, tx, target)
			if err != nil {
				return err
			}
			if got == nil || got.ContentID != c {
				t.Fatalf("graph=%v: expected duplicated avatar, got %#v", graph, got)
			}
			if err := f.facade.Detach(ctx, tx, *ref, source); err != nil {
				return err
			}
			gone, err := f.facade.ContactAvatar(ctx, tx, source)
			if err != nil {
				return err
			}
			if gone != nil {
				t.Fatalf("graph=%v: expected avatar detached from source, got %#v", graph, gone)
			}
			return nil
		})
	}
}
