package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"attachgraph/internal/models"
)

const legacyColumns = "unique_id, content_id, mime_type, caption, flags, created_at"

// LegacyAttachments stores rows of the legacy flat-list representation.
type LegacyAttachments struct{}

type legacyRow struct {
	UniqueID  string         `db:"unique_id"`
	ContentID int64          `db:"content_id"`
	MimeType  string         `db:"mime_type"`
	Caption   sql.NullString `db:"caption"`
	Flags     int            `db:"flags"`
	CreatedAt string         `db:"created_at"`
}

func (r legacyRow) toModel() (*models.LegacyAttachment, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &models.LegacyAttachment{
		UniqueID:  r.UniqueID,
		ContentID: r.ContentID,
		MimeType:  r.MimeType,
		Caption:   r.Caption.String,
		Flags:     models.RenderingFlag(r.Flags),
		CreatedAt: createdAt,
	}, nil
}

// Insert creates a legacy attachment row, assigning a unique id when empty.
func (LegacyAttachments) Insert(ctx context.Context, tx WriteTx, att *models.LegacyAttachment) error {
	if att == nil {
		return fmt.Errorf("legacy attachment is required")
	}
	if att.ContentID <= 0 {
		return fmt.Errorf("content id is required")
	}
	if strings.TrimSpace(att.UniqueID) == "" {
		att.UniqueID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ext().ExecContext(ctx, `
		INSERT INTO legacy_attachments (unique_id, content_id, mime_type, caption, flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		att.UniqueID, att.ContentID, strings.TrimSpace(att.MimeType), nullIfEmpty(att.Caption), int(att.Flags), formatTime(att.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert legacy attachment: %w", err)
	}
	return nil
}

// Get returns one legacy row, or nil when it does not exist.
func (LegacyAttachments) Get(ctx context.Context, tx ReadTx, uniqueID string) (*models.LegacyAttachment, error) {
	var row legacyRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, `SELECT `+legacyColumns+` FROM legacy_attachments WHERE unique_id = ?`, uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// GetMany returns the legacy rows for ids in the order given. Missing ids are
// skipped.
func (LegacyAttachments) GetMany(ctx context.Context, tx ReadTx, ids []string) ([]models.LegacyAttachment, error) {
	ids = models.NormalizeLegacyIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+legacyColumns+` FROM legacy_attachments WHERE unique_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []legacyRow
	if err := sqlx.SelectContext(ctx, tx.ext(), &rows, query, args...); err != nil {
		return nil, err
	}
	byID := make(map[string]legacyRow, len(rows))
	for _, row := range rows {
		byID[row.UniqueID] = row
	}
	out := make([]models.LegacyAttachment, 0, len(rows))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		att, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	return out, nil
}

// ListOrphans returns legacy rows that no message lists anymore, in any of
// its legacy slots.
func (LegacyAttachments) ListOrphans(ctx context.Context, tx ReadTx, limit int) ([]models.LegacyAttachment, error) {
	query := `
		SELECT ` + legacyColumns + ` FROM legacy_attachments la
		WHERE NOT EXISTS (
			SELECT 1 FROM messages m, json_each(m.legacy_attachment_ids) j
			WHERE j.value = la.unique_id
		)
		AND NOT EXISTS (
			SELECT 1 FROM messages m
			WHERE json_extract(m.quoted_reply, '$.thumbnail_legacy_id') = la.unique_id
			   OR json_extract(m.link_preview, '$.image_legacy_id') = la.unique_id
			   OR json_extract(m.sticker, '$.legacy_id') = la.unique_id
			   OR json_extract(m.contact, '$.avatar_legacy_id') = la.unique_id
		)
		ORDER BY la.created_at ASC, la.unique_id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []legacyRow
	if err := sqlx.SelectContext(ctx, tx.ext(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list orphan legacy attachments: %w", err)
	}
	out := make([]models.LegacyAttachment, 0, len(rows))
	for _, row := range rows {
		att, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	return out, nil
}

// Delete removes one legacy row. The content row it pointed at is left for
// the zero-reference sweep.
func (LegacyAttachments) Delete(ctx context.Context, tx WriteTx, uniqueID string) (bool, error) {
	res, err := tx.ext().ExecContext(ctx, `DELETE FROM legacy_attachments WHERE unique_id = ?`, uniqueID)
	if err != nil {
		return false, fmt.Errorf("delete legacy attachment %s: %w", uniqueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
