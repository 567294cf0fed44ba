package edit

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"attachgraph/internal/content"
	"attachgraph/internal/models"
)

// QuotedReplyPolicy says what an edit does to the latest revision's quote.
type QuotedReplyPolicy int

const (
	// QuotedReplyKeep leaves the quote on the latest revision.
	QuotedReplyKeep QuotedReplyPolicy = iota
	// QuotedReplyChange drops the old quote thumbnail from the latest revision;
	// the caller establishes any new quote.
	QuotedReplyChange
)

func (p QuotedReplyPolicy) String() string {
	if p == QuotedReplyChange {
		return "change"
	}
	return "keep"
}

// ParseQuotedReplyPolicy parses "keep" or "change".
func ParseQuotedReplyPolicy(raw string) (QuotedReplyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "keep":
		return QuotedReplyKeep, nil
	case "change":
		return QuotedReplyChange, nil
	}
	return QuotedReplyKeep, fmt.Errorf("invalid quoted reply policy %q (want keep or change)", raw)
}

// LinkPreviewSource is the new link preview of an edit: a LinkPreviewDraft
// composed locally or a LinkPreviewProto received from a peer.
type LinkPreviewSource interface {
	linkPreview() (models.LinkPreview, error)
}

// LinkPreviewDraft is a locally composed preview whose image bytes were
// prepared before the transaction.
type LinkPreviewDraft struct {
	URL         string
	Title       string
	Description string
	Date        *time.Time
	Image       *content.Pending
}

// LinkPreviewProto is a received preview whose image is a remote pointer.
type LinkPreviewProto struct {
	URL         string
	Title       string
	Description string
	Date        *time.Time
	Image       *models.AttachmentPointer
}

func (d LinkPreviewDraft) linkPreview() (models.LinkPreview, error) {
	return buildLinkPreview(d.URL, d.Title, d.Description, d.Date)
}

func (p LinkPreviewProto) linkPreview() (models.LinkPreview, error) {
	return buildLinkPreview(p.URL, p.Title, p.Description, p.Date)
}

func buildLinkPreview(rawURL, title, description string, date *time.Time) (models.LinkPreview, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.LinkPreview{}, fmt.Errorf("parse link preview url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return models.LinkPreview{}, fmt.Errorf("link preview url must use https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return models.LinkPreview{}, fmt.Errorf("link preview url has no host")
	}
	return models.LinkPreview{
		URL:         rawURL,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Date:        date,
	}, nil
}

// Input is everything reconciliation needs. Both revision rows must already
// be inserted.
type Input struct {
	// UneditedTarget is the message as it was before the edit.
	UneditedTarget *models.Message
	// LatestRevision keeps the original row id and carries the edited state.
	LatestRevision      *models.Message
	LatestRevisionRowID int64
	// PriorRevision is the newly inserted copy of the pre-edit state.
	PriorRevision      *models.Message
	PriorRevisionRowID int64
	ThreadRowID        int64

	NewOversizeText *content.Pending
	NewLinkPreview  LinkPreviewSource
	QuotedReply     QuotedReplyPolicy
}

func (in Input) validate() error {
	if in.UneditedTarget == nil || in.LatestRevision == nil || in.PriorRevision == nil {
		return fmt.Errorf("unedited target, latest and prior revisions are required")
	}
	for name, id := range map[string]int64{
		"unedited target": in.UneditedTarget.RowID,
		"latest revision": in.LatestRevisionRowID,
		"prior revision":  in.PriorRevisionRowID,
		"thread":          in.ThreadRowID,
	} {
		if id <= 0 {
			return fmt.Errorf("%w: %s", models.ErrUninsertedOwner, name)
		}
	}
	if in.LatestRevision.RowID != in.LatestRevisionRowID {
		return fmt.Errorf("latest revision row %d does not match %d", in.LatestRevision.RowID, in.LatestRevisionRowID)
	}
	if in.PriorRevision.RowID != in.PriorRevisionRowID {
		return fmt.Errorf("prior revision row %d does not match %d", in.PriorRevision.RowID, in.PriorRevisionRowID)
	}
	if in.PriorRevisionRowID == in.LatestRevisionRowID {
		return fmt.Errorf("prior and latest revision share row %d", in.PriorRevisionRowID)
	}
	if in.UneditedTarget.RowID != in.LatestRevisionRowID {
		return fmt.Errorf("unedited target row %d is not the latest revision row %d", in.UneditedTarget.RowID, in.LatestRevisionRowID)
	}
	for name, msg := range map[string]*models.Message{
		"unedited target": in.UneditedTarget,
		"latest revision": in.LatestRevision,
		"prior revision":  in.PriorRevision,
	} {
		if msg.ThreadRowID != in.ThreadRowID {
			return fmt.Errorf("%s is in thread %d, edit is in thread %d", name, msg.ThreadRowID, in.ThreadRowID)
		}
	}
	return nil
}
