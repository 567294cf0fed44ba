// Package legacy manages the flat-list attachment representation: ids kept
// on the message row that name legacy attachment rows.
package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

// Manager reads and edits the legacy attachment ids of messages. Slot edits
// change the in-memory message; Save persists it.
type Manager struct {
	log *slog.Logger
}

// NewManager returns a legacy manager logging to logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{log: logger}
}

// IsLegacyKind reports whether kind has a legacy representation on messages.
func IsLegacyKind(kind models.OwnerKind) bool {
	return kind.Source() == models.OwnerSourceMessage
}

// BodyAttachments returns the legacy body attachments of msg in list order,
// excluding the oversize text entry.
func (m *Manager) BodyAttachments(ctx context.Context, tx store.ReadTx, msg *models.Message) ([]models.LegacyAttachment, error) {
	rows, err := store.LegacyAttachments{}.GetMany(ctx, tx, msg.LegacyAttachmentIDs)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(msg.LegacyAttachmentIDs) {
		m.log.Warn("message lists missing legacy attachments",
			"message_row_id", msg.RowID,
			"listed", len(msg.LegacyAttachmentIDs),
			"found", len(rows),
		)
	}
	out := rows[:0]
	for _, row := range rows {
		if !row.IsOversizeText() {
			out = append(out, row)
		}
	}
	return out, nil
}

// OversizeText returns the legacy oversize text attachment of msg, or nil.
func (m *Manager) OversizeText(ctx context.Context, tx store.ReadTx, msg *models.Message) (*models.LegacyAttachment, error) {
	rows, err := store.LegacyAttachments{}.GetMany(ctx, tx, msg.LegacyAttachmentIDs)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].IsOversizeText() {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// Slot returns the legacy attachment held in a single-valued role of msg, or nil.
func (m *Manager) Slot(ctx context.Context, tx store.ReadTx, msg *models.Message, kind models.OwnerKind) (*models.LegacyAttachment, error) {
	if kind == models.OwnerKindMessageOversizeText {
		return m.OversizeText(ctx, tx, msg)
	}
	id := SlotID(msg, kind)
	if id == "" {
		return nil, nil
	}
	att, err := store.LegacyAttachments{}.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if att == nil {
		m.log.Warn("legacy attachment slot points at missing row",
			"message_row_id", msg.RowID, "kind", kind.String(), "legacy_id", id)
	}
	return att, nil
}

// Create inserts a legacy attachment row for contentID and returns it.
// The caller lists its id on the message.
func (m *Manager) Create(ctx context.Context, tx store.WriteTx, contentID int64, mimeType, caption string, flags models.RenderingFlag) (*models.LegacyAttachment, error) {
	att := &models.LegacyAttachment{
		ContentID: contentID,
		MimeType:  mimeType,
		Caption:   caption,
		Flags:     flags,
	}
	if err := (store.LegacyAttachments{}).Insert(ctx, tx, att); err != nil {
		return nil, err
	}
	return att, nil
}

// Save persists the legacy ids and slots of msg.
func (m *Manager) Save(ctx context.Context, tx store.WriteTx, msg *models.Message) error {
	msg.LegacyAttachmentIDs = models.NormalizeLegacyIDs(msg.LegacyAttachmentIDs)
	return store.Messages{}.UpdateMessage(ctx, tx, msg)
}

// SlotID returns the legacy id held by a JSON slot of msg, or "".
func SlotID(msg *models.Message, kind models.OwnerKind) string {
	if msg == nil {
		return ""
	}
	switch kind {
	case models.OwnerKindQuotedReplyAttachment:
		if msg.QuotedReply != nil {
			return msg.QuotedReply.ThumbnailLegacyID
		}
	case models.OwnerKindMessageLinkPreview:
		if msg.LinkPreview != nil {
			return msg.LinkPreview.ImageLegacyID
		}
	case models.OwnerKindMessageSticker:
		if msg.Sticker != nil {
			return msg.Sticker.LegacyID
		}
	case models.OwnerKindMessageContactAvatar:
		if msg.Contact != nil {
			return msg.Contact.AvatarLegacyID
		}
	}
	return ""
}

// SetSlot records id for kind on msg. Body and oversize text ids are appended
// to the list without duplicates; the other roles overwrite their slot.
func SetSlot(msg *models.Message, kind models.OwnerKind, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("legacy attachment id is required")
	}
	switch kind {
	case models.OwnerKindMessageBodyAttachment, models.OwnerKindMessageOversizeText:
		if !slices.Contains(msg.LegacyAttachmentIDs, id) {
			msg.LegacyAttachmentIDs = append(msg.LegacyAttachmentIDs, id)
		}
	case models.OwnerKindQuotedReplyAttachment:
		if msg.QuotedReply == nil {
			msg.QuotedReply = &models.QuotedReply{}
		}
		msg.QuotedReply.ThumbnailLegacyID = id
	case models.OwnerKindMessageLinkPreview:
		if msg.LinkPreview == nil {
			msg.LinkPreview = &models.LinkPreview{}
		}
		msg.LinkPreview.ImageLegacyID = id
	case models.OwnerKindMessageSticker:
		if msg.Sticker == nil {
			return fmt.Errorf("message %d has no sticker metadata", msg.RowID)
		}
		msg.Sticker.LegacyID = id
	case models.OwnerKindMessageContactAvatar:
		if msg.Contact == nil {
			msg.Contact = &models.ContactShare{}
		}
		msg.Contact.AvatarLegacyID = id
	default:
		return fmt.Errorf("%s has no legacy representation", kind)
	}
	return nil
}

// ClearSlot removes id from the kind slot of msg. A slot holding a different
// id is left alone. It reports whether anything changed.
func ClearSlot(msg *models.Message, kind models.OwnerKind, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || msg == nil {
		return false
	}
	switch kind {
	case models.OwnerKindMessageBodyAttachment, models.OwnerKindMessageOversizeText:
		i := slices.Index(msg.LegacyAttachmentIDs, id)
		if i < 0 {
			return false
		}
		msg.LegacyAttachmentIDs = slices.Delete(msg.LegacyAttachmentIDs, i, i+1)
		return true
	}
	if SlotID(msg, kind) != id {
		return false
	}
	switch kind {
	case models.OwnerKindQuotedReplyAttachment:
		msg.QuotedReply.ThumbnailLegacyID = ""
	case models.OwnerKindMessageLinkPreview:
		msg.LinkPreview.ImageLegacyID = ""
	case models.OwnerKindMessageSticker:
		msg.Sticker.LegacyID = ""
	case models.OwnerKindMessageContactAvatar:
		msg.Contact.AvatarLegacyID = ""
	}
	return true
}
