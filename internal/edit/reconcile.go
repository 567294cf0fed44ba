// Package edit splits an edited message into its latest and prior revisions
// and redistributes the attachments between them.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attachgraph/internal/content"
	"attachgraph/internal/resource"
	"attachgraph/internal/store"
)

// Reconciler moves attachment edges between the revisions of an edit.
// It never copies content: every duplicated edge shares the content row.
type Reconciler struct {
	facade   *resource.Facade
	ingester *content.Ingester
	log      *slog.Logger
	now      func() time.Time
}

// NewReconciler returns a reconciler. ingester may be nil when edits never
// carry new link preview images or oversize text.
func NewReconciler(facade *resource.Facade, ingester *content.Ingester, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{facade: facade, ingester: ingester, log: logger, now: time.Now}
}

// Reconcile redistributes attachments for one edit inside tx. A prior
// revision that was already reconciled is left alone, so a retried edit does
// not change the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, tx store.WriteTx, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	if in.PriorRevision.ReconciledAt != nil {
		r.log.Debug("prior revision already reconciled",
			"prior_row_id", in.PriorRevisionRowID, "latest_row_id", in.LatestRevisionRowID)
		return nil
	}

	if err := r.reconcileQuotedReply(ctx, tx, in); err != nil {
		return fmt.Errorf("reconcile quoted reply: %w", err)
	}
	if err := r.reconcileLinkPreview(ctx, tx, in); err != nil {
		return fmt.Errorf("reconcile link preview: %w", err)
	}
	if err := r.reconcileOversizeText(ctx, tx, in); err != nil {
		return fmt.Errorf("reconcile oversize text: %w", err)
	}
	if err := r.reconcileBody(ctx, tx, in); err != nil {
		return fmt.Errorf("reconcile body attachments: %w", err)
	}

	if err := (store.Messages{}).MarkReconciled(ctx, tx, in.PriorRevision, r.now()); err != nil {
		return err
	}
	r.log.Info("edit attachments reconciled",
		"prior_row_id", in.PriorRevisionRowID, "latest_row_id", in.LatestRevisionRowID,
		"quoted_reply", in.QuotedReply.String())
	return nil
}

// reconcileQuotedReply keeps the thumbnail on the prior revision. The latest
// revision keeps it too unless the quote changed.
func (r *Reconciler) reconcileQuotedReply(ctx context.Context, tx store.WriteTx, in Input) error {
	thumb, err := r.facade.QuotedReplyThumbnail(ctx, tx, in.UneditedTarget)
	if err != nil {
		return err
	}
	if thumb == nil {
		return nil
	}
	if err := r.facade.DuplicateOnto(ctx, tx, *thumb, in.PriorRevision); err != nil {
		return err
	}
	if in.QuotedReply == QuotedReplyChange {
		return r.facade.Detach(ctx, tx, *thumb, in.LatestRevision)
	}
	return r.facade.DuplicateOnto(ctx, tx, *thumb, in.LatestRevision)
}

// reconcileLinkPreview moves the old preview image to the prior revision and
// gives the latest revision the new preview, if it is valid.
func (r *Reconciler) reconcileLinkPreview(ctx context.Context, tx store.WriteTx, in Input) error {
	old, err := r.facade.LinkPreviewAttachment(ctx, tx, in.UneditedTarget)
	if err != nil {
		return err
	}
	if old != nil {
		if err := r.facade.DuplicateOnto(ctx, tx, *old, in.PriorRevision); err != nil {
			return err
		}
		if err := r.facade.Detach(ctx, tx, *old, in.LatestRevision); err != nil {
			return err
		}
	}

	latest := in.LatestRevision
	latest.LinkPreview = nil
	if in.NewLinkPreview != nil {
		preview, err := in.NewLinkPreview.linkPreview()
		if err != nil {
			r.log.Warn("dropping invalid link preview", "message_row_id", latest.RowID, "error", err)
		} else {
			latest.LinkPreview = &preview
		}
	}
	if err := (store.Messages{}).UpdateMessage(ctx, tx, latest); err != nil {
		return err
	}
	if latest.LinkPreview == nil {
		return nil
	}

	contentID, err := r.linkPreviewImage(ctx, tx, in.NewLinkPreview)
	if err != nil || contentID == 0 {
		return err
	}
	_, err = r.facade.AttachLinkPreview(ctx, tx, latest, contentID)
	return err
}

// linkPreviewImage returns the content row of the new preview image, or 0
// when the preview has none.
func (r *Reconciler) linkPreviewImage(ctx context.Context, tx store.WriteTx, src LinkPreviewSource) (int64, error) {
	switch p := src.(type) {
	case LinkPreviewDraft:
		if p.Image == nil {
			return 0, nil
		}
		if err := r.requireIngester(); err != nil {
			return 0, err
		}
		return r.ingester.Insert(ctx, tx, p.Image)
	case *LinkPreviewDraft:
		if p == nil {
			return 0, nil
		}
		return r.linkPreviewImage(ctx, tx, *p)
	case LinkPreviewProto:
		if p.Image == nil {
			return 0, nil
		}
		if err := r.requireIngester(); err != nil {
			return 0, err
		}
		return r.ingester.InsertPointer(ctx, tx, *p.Image)
	case *LinkPreviewProto:
		if p == nil {
			return 0, nil
		}
		return r.linkPreviewImage(ctx, tx, *p)
	default:
		return 0, fmt.Errorf("unsupported link preview source %T", src)
	}
}

// reconcileOversizeText moves the old long-body text to the prior revision
// and attaches the new one, if any, to the latest.
func (r *Reconciler) reconcileOversizeText(ctx context.Context, tx store.WriteTx, in Input) error {
	old, err := r.facade.OversizeText(ctx, tx, in.UneditedTarget)
	if err != nil {
		return err
	}
	if old != nil {
		if err := r.facade.DuplicateOnto(ctx, tx, *old, in.PriorRevision); err != nil {
			return err
		}
		if err := r.facade.Detach(ctx, tx, *old, in.LatestRevision); err != nil {
			return err
		}
	}
	if in.NewOversizeText == nil {
		return nil
	}
	if err := r.requireIngester(); err != nil {
		return err
	}
	contentID, err := r.ingester.Insert(ctx, tx, in.NewOversizeText)
	if err != nil {
		return err
	}
	_, err = r.facade.AttachOversizeText(ctx, tx, in.LatestRevision, contentID)
	return err
}

// reconcileBody gives both revisions every body attachment of the target.
// Edits never change body attachments.
func (r *Reconciler) reconcileBody(ctx context.Context, tx store.WriteTx, in Input) error {
	body, err := r.facade.BodyAttachments(ctx, tx, in.UneditedTarget)
	if err != nil {
		return err
	}
	for _, ref := range body {
		if err := r.facade.DuplicateOnto(ctx, tx, ref, in.PriorRevision); err != nil {
			return err
		}
		if err := r.facade.DuplicateOnto(ctx, tx, ref, in.LatestRevision); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) requireIngester() error {
	if r.ingester == nil {
		return fmt.Errorf("edit carries new attachment content but no ingester is configured")
	}
	return nil
}
