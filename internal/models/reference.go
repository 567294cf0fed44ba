package models

import (
	"fmt"
	"time"
)

// AttachmentReference is one ownership edge: owner X holds content Y in a role.
type AttachmentReference struct {
	ContentID int64
	Owner     Owner
	// ContentType is a cached copy of the content row's type, nil until backfilled.
	ContentType *ContentType
	CreatedAt   time.Time
}

// NewAttachmentReference pairs a validated owner with a content row.
func NewAttachmentReference(owner Owner, contentID int64) (AttachmentReference, error) {
	if owner == nil {
		return AttachmentReference{}, fmt.Errorf("%w: owner is required", ErrMalformedOwnerMetadata)
	}
	if !owner.ID().Inserted() {
		return AttachmentReference{}, fmt.Errorf("%w: %s", ErrUninsertedOwner, owner.ID())
	}
	if contentID <= 0 {
		return AttachmentReference{}, fmt.Errorf("%w: invalid content id %d", ErrContentNotFound, contentID)
	}
	return AttachmentReference{ContentID: contentID, Owner: owner}, nil
}

// OwnerID returns the edge's owner id.
func (r AttachmentReference) OwnerID() OwnerID {
	if r.Owner == nil {
		return OwnerID{}
	}
	return r.Owner.ID()
}

// OrderInOwner returns the body attachment order, or -1 for single-valued roles.
func (r AttachmentReference) OrderInOwner() int64 {
	if body, ok := r.Owner.(MessageBodyAttachment); ok {
		return body.OrderInOwner
	}
	return -1
}
