package resource

import (
	"context"
	"fmt"

	"attachgraph/internal/legacy"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

// AddBodyAttachments appends body attachments to msg after its existing ones.
func (f *Facade) AddBodyAttachments(ctx context.Context, tx store.WriteTx, msg *models.Message, items []BodyAttachment) ([]Reference, error) {
	if err := requireInserted(msg); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	out := make([]Reference, 0, len(items))
	if f.WritesToGraph(msg) {
		next, err := f.refs.NextBodyOrder(ctx, tx, msg.RowID)
		if err != nil {
			return nil, err
		}
		for i, item := range items {
			owner := models.MessageBodyAttachment{
				MessageRowID:  msg.RowID,
				ThreadRowID:   msg.ThreadRowID,
				OrderInOwner:  next + int64(i),
				RenderingFlag: item.Flags,
				Caption:       item.Caption,
			}
			edge, err := f.refs.Create(ctx, tx, owner, item.ContentID)
			if err != nil {
				return nil, err
			}
			out = append(out, graphReference(edge))
		}
		return out, nil
	}

	order := int64(len(msg.LegacyAttachmentIDs))
	for i, item := range items {
		att, err := f.createLegacyRow(ctx, tx, item.ContentID, item.Caption, item.Flags)
		if err != nil {
			return nil, err
		}
		if err := legacy.SetSlot(msg, models.OwnerKindMessageBodyAttachment, att.UniqueID); err != nil {
			return nil, err
		}
		out = append(out, legacyReference(msg, models.OwnerKindMessageBodyAttachment, order+int64(i), *att))
	}
	if err := f.legacy.Save(ctx, tx, msg); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveBodyAttachment removes one body attachment from msg. The content row
// is left for the sweep.
func (f *Facade) RemoveBodyAttachment(ctx context.Context, tx store.WriteTx, msg *models.Message, ref Reference) error {
	if err := requireInserted(msg); err != nil {
		return err
	}
	if ref.Kind != models.OwnerKindMessageBodyAttachment {
		return fmt.Errorf("%s is not a body attachment", ref.Kind)
	}
	if ref.Representation == RepresentationLegacy {
		if legacy.ClearSlot(msg, ref.Kind, ref.LegacyID()) {
			return f.legacy.Save(ctx, tx, msg)
		}
		return nil
	}
	if ref.Graph == nil {
		return fmt.Errorf("graph reference is missing its edge")
	}
	return f.refs.RemoveReference(ctx, tx, *ref.Graph)
}

// CreateAttachmentPointers ingests received pointers as undownloaded content
// and adds them as body attachments of msg.
func (f *Facade) CreateAttachmentPointers(ctx context.Context, tx store.WriteTx, msg *models.Message, pointers []models.AttachmentPointer) ([]Reference, error) {
	if err := requireInserted(msg); err != nil {
		return nil, err
	}
	if f.ingester == nil {
		return nil, fmt.Errorf("content ingester is not configured")
	}
	items := make([]BodyAttachment, 0, len(pointers))
	for _, ptr := range pointers {
		contentID, err := f.ingester.InsertPointer(ctx, tx, ptr)
		if err != nil {
			return nil, fmt.Errorf("ingest attachment pointer: %w", err)
		}
		items = append(items, BodyAttachment{ContentID: contentID, Caption: ptr.Caption, Flags: ptr.Flags})
	}
	return f.AddBodyAttachments(ctx, tx, msg, items)
}

// CreateQuotedReplyThumbnail gives reply a quoted-reply thumbnail that shares
// the content of the quoted message's first body attachment. It returns nil
// when the quoted message has no body media.
func (f *Facade) CreateQuotedReplyThumbnail(ctx context.Context, tx store.WriteTx, reply, quoted *models.Message) (*Reference, error) {
	if err := requireInserted(reply); err != nil {
		return nil, err
	}
	body, err := f.BodyAttachments(ctx, tx, quoted)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	source := body[0]
	if reply.QuotedReply == nil {
		reply.QuotedReply = &models.QuotedReply{OriginalUniqueID: quoted.UniqueID, Body: quoted.Body}
	}
	return f.attachMessageRole(ctx, tx, reply, models.OwnerKindQuotedReplyAttachment, source.ContentID, source.Flags)
}

// AttachLinkPreview sets the link preview image of msg.
func (f *Facade) AttachLinkPreview(ctx context.Context, tx store.WriteTx, msg *models.Message, contentID int64) (*Reference, error) {
	return f.attachMessageRole(ctx, tx, msg, models.OwnerKindMessageLinkPreview, contentID, models.RenderingFlagDefault)
}

// AttachOversizeText sets the long-body text attachment of msg.
func (f *Facade) AttachOversizeText(ctx context.Context, tx store.WriteTx, msg *models.Message, contentID int64) (*Reference, error) {
	return f.attachMessageRole(ctx, tx, msg, models.OwnerKindMessageOversizeText, contentID, models.RenderingFlagDefault)
}

// AttachSticker sets the sticker image of msg, which must carry sticker metadata.
func (f *Facade) AttachSticker(ctx context.Context, tx store.WriteTx, msg *models.Message, contentID int64) (*Reference, error) {
	if msg != nil && msg.Sticker == nil {
		return nil, fmt.Errorf("message %d has no sticker metadata", msg.RowID)
	}
	return f.attachMessageRole(ctx, tx, msg, models.OwnerKindMessageSticker, contentID, models.RenderingFlagDefault)
}

// AttachContactAvatar sets the shared contact avatar of msg.
func (f *Facade) AttachContactAvatar(ctx context.Context, tx store.WriteTx, msg *models.Message, contentID int64) (*Reference, error) {
	return f.attachMessageRole(ctx, tx, msg, models.OwnerKindMessageContactAvatar, contentID, models.RenderingFlagDefault)
}

// AttachStoryMedia sets the media of a story.
func (f *Facade) AttachStoryMedia(ctx context.Context, tx store.WriteTx, storyRowID, contentID int64, caption string, shouldLoop bool) (*Reference, error) {
	return f.createGraph(ctx, tx, models.StoryMedia{StoryRowID: storyRowID, Caption: caption, ShouldLoop: shouldLoop}, contentID)
}

// AttachStoryLinkPreview sets the link preview image of a text story.
func (f *Facade) AttachStoryLinkPreview(ctx context.Context, tx store.WriteTx, storyRowID, contentID int64) (*Reference, error) {
	return f.createGraph(ctx, tx, models.StoryLinkPreview{StoryRowID: storyRowID}, contentID)
}

// AttachThreadWallpaper sets the wallpaper of a thread.
func (f *Facade) AttachThreadWallpaper(ctx context.Context, tx store.WriteTx, threadRowID, contentID int64) (*Reference, error) {
	return f.createGraph(ctx, tx, models.ThreadWallpaper{ThreadRowID: threadRowID}, contentID)
}

// DuplicateOnto makes target hold the same content as ref in the same role.
// Content is shared, never copied, and an existing edge makes this a no-op.
func (f *Facade) DuplicateOnto(ctx context.Context, tx store.WriteTx, ref Reference, target *models.Message) error {
	if err := requireInserted(target); err != nil {
		return err
	}
	if ref.Representation == RepresentationGraph {
		if ref.Graph == nil {
			return fmt.Errorf("graph reference is missing its edge")
		}
		return f.refs.AddOwner(ctx, tx, *ref.Graph, models.OwnerID{Kind: ref.Kind, RowID: target.RowID})
	}

	id := ref.LegacyID()
	if !ref.Kind.IsPlural() && ref.Kind != models.OwnerKindMessageOversizeText {
		if held := legacy.SlotID(target, ref.Kind); held != "" {
			if held != id {
				f.log.Warn("legacy attachment slot already set; keeping existing id",
					"message_row_id", target.RowID, "kind", ref.Kind.String(),
					"existing_legacy_id", held, "requested_legacy_id", id)
			}
			return nil
		}
	}
	if ref.Kind == models.OwnerKindMessageOversizeText {
		held, err := f.legacy.OversizeText(ctx, tx, target)
		if err != nil {
			return err
		}
		if held != nil && held.UniqueID != id {
			f.log.Warn("legacy oversize text already set; keeping existing id",
				"message_row_id", target.RowID, "existing_legacy_id", held.UniqueID, "requested_legacy_id", id)
			return nil
		}
	}
	before := len(target.LegacyAttachmentIDs)
	if err := legacy.SetSlot(target, ref.Kind, id); err != nil {
		return err
	}
	if ref.Kind.IsPlural() || ref.Kind == models.OwnerKindMessageOversizeText {
		if len(target.LegacyAttachmentIDs) == before {
			return nil
		}
	}
	return f.legacy.Save(ctx, tx, target)
}

// Detach removes the edge ref describes from msg. A slot holding other
// content, or no edge at all, is left untouched.
func (f *Facade) Detach(ctx context.Context, tx store.WriteTx, ref Reference, msg *models.Message) error {
	if err := requireInserted(msg); err != nil {
		return err
	}
	if ref.Representation == RepresentationLegacy {
		if legacy.ClearSlot(msg, ref.Kind, ref.LegacyID()) {
			return f.legacy.Save(ctx, tx, msg)
		}
		return nil
	}
	if ref.Kind == models.OwnerKindMessageBodyAttachment {
		if ref.Graph == nil {
			return fmt.Errorf("graph reference is missing its edge")
		}
		body, ok := ref.Graph.Owner.(models.MessageBodyAttachment)
		if !ok {
			return fmt.Errorf("%w: body reference has owner %T", models.ErrMalformedOwnerMetadata, ref.Graph.Owner)
		}
		body.MessageRowID = msg.RowID
		return f.refs.RemoveReference(ctx, tx, models.AttachmentReference{Owner: body, ContentID: ref.ContentID})
	}
	return f.refs.RemoveOwner(ctx, tx, models.OwnerID{Kind: ref.Kind, RowID: msg.RowID}, ref.ContentID)
}

func (f *Facade) attachMessageRole(ctx context.Context, tx store.WriteTx, msg *models.Message, kind models.OwnerKind, contentID int64, flags models.RenderingFlag) (*Reference, error) {
	if err := requireInserted(msg); err != nil {
		return nil, err
	}
	if f.WritesToGraph(msg) {
		meta := models.OwnerMetadata{Flags: int(flags), ThreadRowID: &msg.ThreadRowID}
		if kind == models.OwnerKindMessageSticker && msg.Sticker != nil {
			stickerID := msg.Sticker.StickerID
			meta.StickerPackID = msg.Sticker.PackID
			meta.StickerID = &stickerID
		}
		owner, err := models.BuildOwner(models.OwnerID{Kind: kind, RowID: msg.RowID}, meta)
		if err != nil {
			return nil, err
		}
		return f.createGraph(ctx, tx, owner, contentID)
	}

	existing, err := f.legacy.Slot(ctx, tx, msg, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ContentID != contentID {
			f.log.Warn("attachment role already set; keeping existing legacy attachment",
				"message_row_id", msg.RowID, "kind", kind.String(), "legacy_id", existing.UniqueID)
		}
		ref := legacyReference(msg, kind, -1, *existing)
		return &ref, nil
	}
	att, err := f.createLegacyRow(ctx, tx, contentID, "", flags)
	if err != nil {
		return nil, err
	}
	if err := legacy.SetSlot(msg, kind, att.UniqueID); err != nil {
		return nil, err
	}
	if err := f.legacy.Save(ctx, tx, msg); err != nil {
		return nil, err
	}
	ref := legacyReference(msg, kind, -1, *att)
	return &ref, nil
}

func (f *Facade) createGraph(ctx context.Context, tx store.WriteTx, owner models.Owner, contentID int64) (*Reference, error) {
	edge, err := f.refs.Create(ctx, tx, owner, contentID)
	if err != nil {
		return nil, err
	}
	ref := graphReference(edge)
	return &ref, nil
}

// createLegacyRow inserts a legacy row for contentID, copying the content's
// mime type.
func (f *Facade) createLegacyRow(ctx context.Context, tx store.WriteTx, contentID int64, caption string, flags models.RenderingFlag) (*models.LegacyAttachment, error) {
	c, err := store.Contents{}.Get(ctx, tx, contentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", models.ErrContentNotFound, contentID)
	}
	return f.legacy.Create(ctx, tx, contentID, c.MimeType, caption, flags)
}

func requireInserted(msg *models.Message) error {
	if msg == nil || msg.RowID <= 0 {
		return models.ErrUninsertedOwner
	}
	return nil
}
