// Package resource is the single read and write surface for message, story
// and thread attachments. It hides whether a role is recorded in the legacy
// flat list or in the reference graph.
package resource

import (
	"context"
	"fmt"
	"log/slog"

	"attachgraph/internal/content"
	"attachgraph/internal/legacy"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

// Options configures a Facade.
type Options struct {
	// GraphWrites sends new attachments of messages without legacy ids to the
	// reference graph. When false every message write uses the legacy list.
	GraphWrites bool
	Logger      *slog.Logger
}

// Facade resolves and mutates attachment references.
type Facade struct {
	refs        store.References
	legacy      *legacy.Manager
	ingester    *content.Ingester
	graphWrites bool
	log         *slog.Logger
}

// New returns a facade. ingester may be nil when pointer ingestion is unused.
func New(ingester *content.Ingester, opts Options) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		refs:        store.NewReferences(logger),
		legacy:      legacy.NewManager(logger),
		ingester:    ingester,
		graphWrites: opts.GraphWrites,
		log:         logger,
	}
}

// GraphWrites reports whether the graph representation takes new writes.
func (f *Facade) GraphWrites() bool {
	return f.graphWrites
}

// WritesToGraph reports which representation a write to msg goes to.
func (f *Facade) WritesToGraph(msg *models.Message) bool {
	return f.graphWrites && !msg.HasLegacyAttachments()
}

// BodyAttachment describes one body attachment to add.
type BodyAttachment struct {
	ContentID int64
	Caption   string
	Flags     models.RenderingFlag
}

// AllReferences returns every attachment of msg: body attachments in order,
// then each single-valued role that is present.
func (f *Facade) AllReferences(ctx context.Context, tx store.ReadTx, msg *models.Message) ([]Reference, error) {
	out, err := f.BodyAttachments(ctx, tx, msg)
	if err != nil {
		return nil, err
	}
	for _, kind := range models.MessageOwnerKinds {
		if kind.IsPlural() {
			continue
		}
		ref, err := f.messageRole(ctx, tx, msg, kind)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			out = append(out, *ref)
		}
	}
	return out, nil
}

// BodyAttachments returns the ordered body attachments of msg. Legacy entries
// come first, followed by graph edges.
func (f *Facade) BodyAttachments(ctx context.Context, tx store.ReadTx, msg *models.Message) ([]Reference, error) {
	if msg == nil {
		return nil, nil
	}
	var out []Reference
	if len(msg.LegacyAttachmentIDs) > 0 {
		rows, err := f.legacy.BodyAttachments(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			out = append(out, legacyReference(msg, models.OwnerKindMessageBodyAttachment, int64(i), row))
		}
	}
	if msg.RowID <= 0 {
		return out, nil
	}
	edges, err := f.refs.FetchReferences(ctx, tx, models.MessageBodyAttachmentOwner(msg.RowID))
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		out = append(out, graphReference(edge))
	}
	return out, nil
}

// OversizeText returns the long-body text attachment of msg, or nil.
func (f *Facade) OversizeText(ctx context.Context, tx store.ReadTx, msg *models.Message) (*Reference, error) {
	return f.messageRole(ctx, tx, msg, models.OwnerKindMessageOversizeText)
}

// QuotedReplyThumbnail returns the quoted-reply thumbnail of msg, or nil.
func (f *Facade) QuotedReplyThumbnail(ctx context.Context, tx store.ReadTx, msg *models.Message) (*Reference, error) {
	return f.messageRole(ctx, tx, msg, models.OwnerKindQuotedReplyAttachment)
}

// LinkPreviewAttachment returns the link preview image of msg, or nil.
func (f *Facade) LinkPreviewAttachment(ctx context.Context, tx store.ReadTx, msg *models.Message) (*Reference, error) {
	return f.messageRole(ctx, tx, msg, models.OwnerKindMessageLinkPreview)
}

// StickerAttachment returns the sticker image of msg, or nil.
func (f *Facade) StickerAttachment(ctx context.Context, tx store.ReadTx, msg *models.Message) (*Reference, error) {
	return f.messageRole(ctx, tx, msg, models.OwnerKindMessageSticker)
}

// ContactAvatar returns the shared contact's avatar of msg, or nil.
func (f *Facade) ContactAvatar(ctx context.Context, tx store.ReadTx, msg *models.Message) (*Reference, error) {
	return f.messageRole(ctx, tx, msg, models.OwnerKindMessageContactAvatar)
}

// MessageRole returns the single-valued role kind of msg, or nil.
func (f *Facade) MessageRole(ctx context.Context, tx store.ReadTx, msg *models.Message, kind models.OwnerKind) (*Reference, error) {
	if kind.Source() != models.OwnerSourceMessage || kind.IsPlural() {
		return nil, fmt.Errorf("%s is not a single-valued message role", kind)
	}
	return f.messageRole(ctx, tx, msg, kind)
}

// StoryMedia returns the media of a story, or nil.
func (f *Facade) StoryMedia(ctx context.Context, tx store.ReadTx, storyRowID int64) (*Reference, error) {
	return f.graphRole(ctx, tx, models.StoryMediaOwner(storyRowID))
}

// StoryLinkPreview returns the link preview image of a text story, or nil.
func (f *Facade) StoryLinkPreview(ctx context.Context, tx store.ReadTx, storyRowID int64) (*Reference, error) {
	return f.graphRole(ctx, tx, models.StoryLinkPreviewOwner(storyRowID))
}

// ThreadWallpaper returns the wallpaper of a thread, or nil.
func (f *Facade) ThreadWallpaper(ctx context.Context, tx store.ReadTx, threadRowID int64) (*Reference, error) {
	return f.graphRole(ctx, tx, models.ThreadWallpaperOwner(threadRowID))
}

// messageRole resolves a single-valued message role: a populated legacy slot
// wins, otherwise the graph edge is used.
func (f *Facade) messageRole(ctx context.Context, tx store.ReadTx, msg *models.Message, kind models.OwnerKind) (*Reference, error) {
	if msg == nil {
		return nil, nil
	}
	att, err := f.legacy.Slot(ctx, tx, msg, kind)
	if err != nil {
		return nil, err
	}
	if att != nil {
		ref := legacyReference(msg, kind, -1, *att)
		return &ref, nil
	}
	if msg.RowID <= 0 {
		return nil, nil
	}
	return f.graphRole(ctx, tx, models.OwnerID{Kind: kind, RowID: msg.RowID})
}

func (f *Facade) graphRole(ctx context.Context, tx store.ReadTx, owner models.OwnerID) (*Reference, error) {
	if !owner.Inserted() {
		return nil, nil
	}
	edge, err := f.refs.FetchReference(ctx, tx, owner)
	if err != nil || edge == nil {
		return nil, err
	}
	ref := graphReference(*edge)
	return &ref, nil
}
