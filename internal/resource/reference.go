package resource

import (
	"context"

	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

// Representation names the storage backing a Reference.
type Representation int

const (
	RepresentationGraph Representation = iota
	RepresentationLegacy
)

func (r Representation) String() string {
	if r == RepresentationLegacy {
		return "legacy"
	}
	return "graph"
}

func (r Representation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Reference is the caller-facing view of one attachment held by an owner,
// whichever representation records it. Exactly one of Legacy and Graph is set.
type Reference struct {
	Representation Representation              `json:"representation" yaml:"representation"`
	Kind           models.OwnerKind            `json:"kind" yaml:"kind"`
	OwnerRowID     int64                       `json:"owner_row_id" yaml:"owner_row_id"`
	ContentID      int64                       `json:"content_id" yaml:"content_id"`
	OrderInOwner   int64                       `json:"order_in_owner" yaml:"order_in_owner"`
	Caption        string                      `json:"caption,omitempty" yaml:"caption,omitempty"`
	Flags          models.RenderingFlag        `json:"flags" yaml:"flags"`
	ContentType    *models.ContentType         `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Legacy         *models.LegacyAttachment    `json:"legacy,omitempty" yaml:"legacy,omitempty"`
	Graph          *models.AttachmentReference `json:"-" yaml:"-"`
}

// LegacyID returns the legacy attachment id, or "" for graph references.
func (r Reference) LegacyID() string {
	if r.Legacy == nil {
		return ""
	}
	return r.Legacy.UniqueID
}

// Content fetches the referenced content row.
func (r Reference) Content(ctx context.Context, tx store.ReadTx) (*models.AttachmentContent, error) {
	return store.Contents{}.Get(ctx, tx, r.ContentID)
}

func graphReference(ref models.AttachmentReference) Reference {
	id := ref.OwnerID()
	out := Reference{
		Representation: RepresentationGraph,
		Kind:           id.Kind,
		OwnerRowID:     id.RowID,
		ContentID:      ref.ContentID,
		OrderInOwner:   ref.OrderInOwner(),
		ContentType:    ref.ContentType,
		Graph:          &ref,
	}
	meta := ref.Owner.Metadata()
	out.Flags = models.RenderingFlag(meta.Flags)
	if meta.Caption != nil {
		out.Caption = *meta.Caption
	}
	return out
}

func legacyReference(msg *models.Message, kind models.OwnerKind, order int64, att models.LegacyAttachment) Reference {
	return Reference{
		Representation: RepresentationLegacy,
		Kind:           kind,
		OwnerRowID:     msg.RowID,
		ContentID:      att.ContentID,
		OrderInOwner:   order,
		Caption:        att.Caption,
		Flags:          att.Flags,
		Legacy:         &att,
	}
}
