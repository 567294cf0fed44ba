package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"attachgraph/internal/models"
)

const messageColumns = "id, unique_id, thread_row_id, body, edit_state, latest_revision_row_id, legacy_attachment_ids, quoted_reply, link_preview, sticker, contact, attachments_reconciled_at, created_at"

// Messages stores message, thread and story rows. Attachment-bearing fields
// of a message are persisted as JSON columns.
type Messages struct{}

type messageRow struct {
	ID                  int64          `db:"id"`
	UniqueID            string         `db:"unique_id"`
	ThreadRowID         int64          `db:"thread_row_id"`
	Body                sql.NullString `db:"body"`
	EditState           int            `db:"edit_state"`
	LatestRevisionRowID sql.NullInt64  `db:"latest_revision_row_id"`
	LegacyAttachmentIDs string         `db:"legacy_attachment_ids"`
	QuotedReply         sql.NullString `db:"quoted_reply"`
	LinkPreview         sql.NullString `db:"link_preview"`
	Sticker             sql.NullString `db:"sticker"`
	Contact             sql.NullString `db:"contact"`
	ReconciledAt        sql.NullString `db:"attachments_reconciled_at"`
	CreatedAt           string         `db:"created_at"`
}

func (r messageRow) toModel() (*models.Message, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		RowID:               r.ID,
		UniqueID:            r.UniqueID,
		ThreadRowID:         r.ThreadRowID,
		Body:                r.Body.String,
		EditState:           models.EditState(r.EditState),
		LatestRevisionRowID: r.LatestRevisionRowID.Int64,
		CreatedAt:           createdAt,
	}
	if r.ReconciledAt.Valid {
		at, err := parseTime(r.ReconciledAt.String)
		if err != nil {
			return nil, err
		}
		msg.ReconciledAt = &at
	}
	if r.LegacyAttachmentIDs != "" {
		if err := json.Unmarshal([]byte(r.LegacyAttachmentIDs), &msg.LegacyAttachmentIDs); err != nil {
			return nil, fmt.Errorf("message %d legacy_attachment_ids: %w", r.ID, err)
		}
		msg.LegacyAttachmentIDs = models.NormalizeLegacyIDs(msg.LegacyAttachmentIDs)
	}
	if err := decodeSlot(r.QuotedReply, &msg.QuotedReply); err != nil {
		return nil, fmt.Errorf("message %d quoted_reply: %w", r.ID, err)
	}
	if err := decodeSlot(r.LinkPreview, &msg.LinkPreview); err != nil {
		return nil, fmt.Errorf("message %d link_preview: %w", r.ID, err)
	}
	if err := decodeSlot(r.Sticker, &msg.Sticker); err != nil {
		return nil, fmt.Errorf("message %d sticker: %w", r.ID, err)
	}
	if err := decodeSlot(r.Contact, &msg.Contact); err != nil {
		return nil, fmt.Errorf("message %d contact: %w", r.ID, err)
	}
	return msg, nil
}

func decodeSlot[T any](raw sql.NullString, dst **T) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func encodeSlot[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

type messageColumnsArgs struct {
	legacyIDs   string
	quotedReply any
	linkPreview any
	sticker     any
	contact     any
}

func encodeMessage(msg *models.Message) (messageColumnsArgs, error) {
	var out messageColumnsArgs
	ids := models.NormalizeLegacyIDs(msg.LegacyAttachmentIDs)
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return out, err
	}
	out.legacyIDs = string(data)
	if out.quotedReply, err = encodeSlot(msg.QuotedReply); err != nil {
		return out, err
	}
	if out.linkPreview, err = encodeSlot(msg.LinkPreview); err != nil {
		return out, err
	}
	if out.sticker, err = encodeSlot(msg.Sticker); err != nil {
		return out, err
	}
	if out.contact, err = encodeSlot(msg.Contact); err != nil {
		return out, err
	}
	return out, nil
}

// InsertThread creates a thread row and sets thread.RowID.
func (Messages) InsertThread(ctx context.Context, tx WriteTx, thread *models.Thread) (int64, error) {
	if thread == nil {
		return 0, fmt.Errorf("thread is required")
	}
	if strings.TrimSpace(thread.UniqueID) == "" {
		thread.UniqueID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ext().ExecContext(ctx, `INSERT INTO threads (unique_id, created_at) VALUES (?, ?)`,
		thread.UniqueID, formatTime(thread.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	thread.RowID = id
	return id, nil
}

// InsertStory creates a story row and sets story.RowID.
func (Messages) InsertStory(ctx context.Context, tx WriteTx, story *models.Story) (int64, error) {
	if story == nil {
		return 0, fmt.Errorf("story is required")
	}
	if strings.TrimSpace(story.UniqueID) == "" {
		story.UniqueID = uuid.NewString()
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ext().ExecContext(ctx, `INSERT INTO stories (unique_id, created_at) VALUES (?, ?)`,
		story.UniqueID, formatTime(story.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert story: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	story.RowID = id
	return id, nil
}

// ThreadExists reports whether a thread row exists.
func (Messages) ThreadExists(ctx context.Context, tx ReadTx, rowID int64) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, tx.ext(), &n, `SELECT COUNT(*) FROM threads WHERE id = ?`, rowID)
	return n > 0, err
}

// StoryExists reports whether a story row exists.
func (Messages) StoryExists(ctx context.Context, tx ReadTx, rowID int64) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, tx.ext(), &n, `SELECT COUNT(*) FROM stories WHERE id = ?`, rowID)
	return n > 0, err
}

// InsertMessage creates a message row and sets msg.RowID.
func (Messages) InsertMessage(ctx context.Context, tx WriteTx, msg *models.Message) (int64, error) {
	if msg == nil {
		return 0, fmt.Errorf("message is required")
	}
	if msg.RowID != 0 {
		return 0, fmt.Errorf("message already inserted as row %d", msg.RowID)
	}
	if msg.ThreadRowID <= 0 {
		return 0, fmt.Errorf("thread_row_id is required")
	}
	if strings.TrimSpace(msg.UniqueID) == "" {
		msg.UniqueID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cols, err := encodeMessage(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	var latest any
	if msg.LatestRevisionRowID > 0 {
		latest = msg.LatestRevisionRowID
	}
	res, err := tx.ext().ExecContext(ctx, `
		INSERT INTO messages (
			unique_id, thread_row_id, body, edit_state, latest_revision_row_id,
			legacy_attachment_ids, quoted_reply, link_preview, sticker, contact, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.UniqueID,
		msg.ThreadRowID,
		nullIfEmpty(msg.Body),
		int(msg.EditState),
		latest,
		cols.legacyIDs,
		cols.quotedReply,
		cols.linkPreview,
		cols.sticker,
		cols.contact,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	msg.RowID = id
	return id, nil
}

// GetMessage returns one message row, or nil when it does not exist.
func (Messages) GetMessage(ctx context.Context, tx ReadTx, rowID int64) (*models.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// GetMessageByUniqueID returns one message row by its unique id, or nil.
func (Messages) GetMessageByUniqueID(ctx context.Context, tx ReadTx, uniqueID string) (*models.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, `SELECT `+messageColumns+` FROM messages WHERE unique_id = ?`, strings.TrimSpace(uniqueID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListPriorRevisions returns the prior revision rows of a latest revision,
// oldest first.
func (Messages) ListPriorRevisions(ctx context.Context, tx ReadTx, latestRowID int64) ([]models.Message, error) {
	var rows []messageRow
	err := sqlx.SelectContext(ctx, tx.ext(), &rows, `
		SELECT `+messageColumns+` FROM messages
		WHERE latest_revision_row_id = ? AND edit_state = ?
		ORDER BY id ASC`, latestRowID, int(models.EditStatePastRevision))
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, nil
}

// MarkReconciled stamps a prior revision as having its attachments
// redistributed.
func (Messages) MarkReconciled(ctx context.Context, tx WriteTx, msg *models.Message, at time.Time) error {
	if msg == nil || msg.RowID <= 0 {
		return models.ErrUninsertedOwner
	}
	at = at.UTC()
	if _, err := tx.ext().ExecContext(ctx, `UPDATE messages SET attachments_reconciled_at = ? WHERE id = ?`, formatTime(at), msg.RowID); err != nil {
		return fmt.Errorf("mark message %d reconciled: %w", msg.RowID, err)
	}
	msg.ReconciledAt = &at
	return nil
}

// UpdateMessage persists the mutable fields of an inserted message: body,
// edit bookkeeping, the legacy id list and the JSON attachment slots.
func (Messages) UpdateMessage(ctx context.Context, tx WriteTx, msg *models.Message) error {
	if msg == nil || msg.RowID <= 0 {
		return models.ErrUninsertedOwner
	}
	cols, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var latest any
	if msg.LatestRevisionRowID > 0 {
		latest = msg.LatestRevisionRowID
	}
	res, err := tx.ext().ExecContext(ctx, `
		UPDATE messages SET
			body = ?, edit_state = ?, latest_revision_row_id = ?,
			legacy_attachment_ids = ?, quoted_reply = ?, link_preview = ?, sticker = ?, contact = ?
		WHERE id = ?
	`,
		nullIfEmpty(msg.Body),
		int(msg.EditState),
		latest,
		cols.legacyIDs,
		cols.quotedReply,
		cols.linkPreview,
		cols.sticker,
		cols.contact,
		msg.RowID,
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", msg.RowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %d not found", msg.RowID)
	}
	return nil
}
