package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"attachgraph/internal/content"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

var (
	// ErrMessageNotFound means the edit target row does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrPastRevision means the edit target is itself a prior revision.
	ErrPastRevision = errors.New("cannot edit a prior revision")
)

// Request describes one edit of an existing message.
type Request struct {
	MessageRowID int64
	Body         string
	// PriorUniqueID names the new prior revision row. Empty assigns a uuid.
	PriorUniqueID string

	QuotedReply QuotedReplyPolicy
	// NewQuotedReply replaces the quote header when QuotedReply is
	// QuotedReplyChange. Nil removes the quote.
	NewQuotedReply *models.QuotedReply

	NewOversizeText *content.Pending
	NewLinkPreview  LinkPreviewSource
}

// Result holds both revisions after a committed edit.
type Result struct {
	Latest *models.Message `json:"latest" yaml:"latest"`
	Prior  *models.Message `json:"prior" yaml:"prior"`
}

// Editor applies edits: it inserts the prior revision, rewrites the target as
// the latest revision and reconciles attachments, all in one transaction.
type Editor struct {
	st         *store.Store
	reconciler *Reconciler
	log        *slog.Logger
}

// NewEditor returns an editor writing to st.
func NewEditor(st *store.Store, reconciler *Reconciler, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{st: st, reconciler: reconciler, log: logger}
}

// Apply performs req. Pending content in req is discarded if the edit fails.
func (e *Editor) Apply(ctx context.Context, req Request) (*Result, error) {
	if req.MessageRowID <= 0 {
		return nil, models.ErrUninsertedOwner
	}

	var result Result
	err := e.st.Write(ctx, func(tx store.WriteTx) error {
		msgs := store.Messages{}
		target, err := msgs.GetMessage(ctx, tx, req.MessageRowID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, req.MessageRowID)
		}
		if target.EditState == models.EditStatePastRevision {
			return fmt.Errorf("%w: %d", ErrPastRevision, target.RowID)
		}

		unedited := target.Clone()
		prior := target.PriorRevisionCopy(strings.TrimSpace(req.PriorUniqueID))
		if _, err := msgs.InsertMessage(ctx, tx, prior); err != nil {
			return fmt.Errorf("insert prior revision: %w", err)
		}

		latest := target
		latest.Body = req.Body
		latest.EditState = models.EditStateLatestRevision
		if req.QuotedReply == QuotedReplyChange {
			latest.QuotedReply = req.NewQuotedReply
		}
		if err := msgs.UpdateMessage(ctx, tx, latest); err != nil {
			return fmt.Errorf("update latest revision: %w", err)
		}

		err = e.reconciler.Reconcile(ctx, tx, Input{
			UneditedTarget:      unedited,
			LatestRevision:      latest,
			LatestRevisionRowID: latest.RowID,
			PriorRevision:       prior,
			PriorRevisionRowID:  prior.RowID,
			ThreadRowID:         latest.ThreadRowID,
			NewOversizeText:     req.NewOversizeText,
			NewLinkPreview:      req.NewLinkPreview,
			QuotedReply:         req.QuotedReply,
		})
		if err != nil {
			return err
		}
		result = Result{Latest: latest, Prior: prior}
		return nil
	})
	if err != nil {
		e.discardPending(ctx, req)
		return nil, err
	}
	e.log.Info("message edited", "message_row_id", result.Latest.RowID, "prior_row_id", result.Prior.RowID)
	return &result, nil
}

func (e *Editor) discardPending(ctx context.Context, req Request) {
	ingester := e.reconciler.ingester
	if ingester == nil {
		return
	}
	pending := []*content.Pending{req.NewOversizeText}
	switch p := req.NewLinkPreview.(type) {
	case LinkPreviewDraft:
		pending = append(pending, p.Image)
	case *LinkPreviewDraft:
		if p != nil {
			pending = append(pending, p.Image)
		}
	}
	for _, p := range pending {
		if err := ingester.Discard(ctx, e.st, p); err != nil {
			e.log.Warn("failed to discard pending attachment bytes", "key", p.Key, "error", err)
		}
	}
}
