package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EditState describes where a message row sits in its edit history.
type EditState int

const (
	EditStateNone EditState = iota
	EditStateLatestRevision
	EditStatePastRevision
)

func (s EditState) String() string {
	switch s {
	case EditStateNone:
		return "none"
	case EditStateLatestRevision:
		return "latest_revision"
	case EditStatePastRevision:
		return "past_revision"
	default:
		return fmt.Sprintf("edit_state(%d)", int(s))
	}
}

func (s EditState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QuotedReply is the quoted-message header of a reply.
type QuotedReply struct {
	AuthorID          string `json:"author_id,omitempty"`
	OriginalUniqueID  string `json:"original_unique_id,omitempty"`
	Body              string `json:"body,omitempty"`
	ThumbnailLegacyID string `json:"thumbnail_legacy_id,omitempty"`
}

// LinkPreview is the rendered preview metadata of a URL in a message body.
type LinkPreview struct {
	URL           string     `json:"url"`
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	ImageLegacyID string     `json:"image_legacy_id,omitempty"`
}

// StickerInfo identifies the sticker of a sticker message.
type StickerInfo struct {
	PackID    []byte `json:"pack_id"`
	PackKey   []byte `json:"pack_key,omitempty"`
	StickerID int64  `json:"sticker_id"`
	Emoji     string `json:"emoji,omitempty"`
	LegacyID  string `json:"legacy_id,omitempty"`
}

// ContactShare is a shared contact card.
type ContactShare struct {
	Name           string   `json:"name"`
	PhoneNumbers   []string `json:"phone_numbers,omitempty"`
	AvatarLegacyID string   `json:"avatar_legacy_id,omitempty"`
}

// Message is one message row. An edited message is split into the original
// row (mutated in place as the latest revision) and prior revision rows.
type Message struct {
	RowID               int64         `json:"row_id"`
	UniqueID            string        `json:"unique_id"`
	ThreadRowID         int64         `json:"thread_row_id"`
	Body                string        `json:"body,omitempty"`
	EditState           EditState     `json:"edit_state"`
	LatestRevisionRowID int64         `json:"latest_revision_row_id,omitempty"`
	LegacyAttachmentIDs []string      `json:"legacy_attachment_ids,omitempty"`
	QuotedReply         *QuotedReply  `json:"quoted_reply,omitempty"`
	LinkPreview         *LinkPreview  `json:"link_preview,omitempty"`
	Sticker             *StickerInfo  `json:"sticker,omitempty"`
	Contact             *ContactShare `json:"contact,omitempty"`
	// ReconciledAt is set on a prior revision once its attachments have been
	// redistributed.
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasLegacyAttachments reports whether any role of m is recorded in the
// legacy flat-list representation.
func (m *Message) HasLegacyAttachments() bool {
	if m == nil {
		return false
	}
	if len(m.LegacyAttachmentIDs) > 0 {
		return true
	}
	if m.QuotedReply != nil && m.QuotedReply.ThumbnailLegacyID != "" {
		return true
	}
	if m.LinkPreview != nil && m.LinkPreview.ImageLegacyID != "" {
		return true
	}
	if m.Sticker != nil && m.Sticker.LegacyID != "" {
		return true
	}
	return m.Contact != nil && m.Contact.AvatarLegacyID != ""
}

// AllLegacyIDs returns every legacy attachment id recorded on m, deduplicated.
func (m *Message) AllLegacyIDs() []string {
	if m == nil {
		return nil
	}
	ids := append([]string(nil), m.LegacyAttachmentIDs...)
	if m.QuotedReply != nil {
		ids = append(ids, m.QuotedReply.ThumbnailLegacyID)
	}
	if m.LinkPreview != nil {
		ids = append(ids, m.LinkPreview.ImageLegacyID)
	}
	if m.Sticker != nil {
		ids = append(ids, m.Sticker.LegacyID)
	}
	if m.Contact != nil {
		ids = append(ids, m.Contact.AvatarLegacyID)
	}
	return NormalizeLegacyIDs(ids)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.LegacyAttachmentIDs = slices.Clone(m.LegacyAttachmentIDs)
	if m.QuotedReply != nil {
		q := *m.QuotedReply
		out.QuotedReply = &q
	}
	if m.LinkPreview != nil {
		lp := *m.LinkPreview
		if m.LinkPreview.Date != nil {
			d := *m.LinkPreview.Date
			lp.Date = &d
		}
		out.LinkPreview = &lp
	}
	if m.Sticker != nil {
		s := *m.Sticker
		s.PackID = slices.Clone(m.Sticker.PackID)
		s.PackKey = slices.Clone(m.Sticker.PackKey)
		out.Sticker = &s
	}
	if m.Contact != nil {
		c := *m.Contact
		c.PhoneNumbers = slices.Clone(m.Contact.PhoneNumbers)
		out.Contact = &c
	}
	if m.ReconciledAt != nil {
		r := *m.ReconciledAt
		out.ReconciledAt = &r
	}
	return &out
}

// PriorRevisionCopy returns the structural copy of m's pre-edit state that is
// inserted as a new prior-revision row. The copy has no row id yet.
func (m *Message) PriorRevisionCopy(uniqueID string) *Message {
	prior := m.Clone()
	prior.RowID = 0
	prior.UniqueID = uniqueID
	prior.EditState = EditStatePastRevision
	prior.LatestRevisionRowID = m.RowID
	prior.ReconciledAt = nil
	return prior
}

// NormalizeLegacyIDs trims, drops empties and deduplicates ids, keeping order.
func NormalizeLegacyIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LegacyAttachment is a row of the legacy flat-list representation. Messages
// list legacy attachment ids; each legacy row points at one content row.
type LegacyAttachment struct {
	UniqueID  string        `json:"unique_id"`
	ContentID int64         `json:"content_id"`
	MimeType  string        `json:"mime_type"`
	Caption   string        `json:"caption,omitempty"`
	Flags     RenderingFlag `json:"flags"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsOversizeText reports whether the legacy row holds a long message body.
func (a *LegacyAttachment) IsOversizeText() bool {
	return a != nil && strings.EqualFold(strings.TrimSpace(a.MimeType), OversizeTextMimeType)
}

// Story is a story post row.
type Story struct {
	RowID     int64     `json:"row_id"`
	UniqueID  string    `json:"unique_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is a conversation thread row.
type Thread struct {
	RowID     int64     `json:"row_id"`
	UniqueID  string    `json:"unique_id"`
	CreatedAt time.Time `json:"created_at"`
}
