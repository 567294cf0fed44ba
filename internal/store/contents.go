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

const contentColumns = "id, unique_id, content_type, mime_type, byte_count, encryption_key, digest, plaintext_hash, local_relative_path, cdn_key, cdn_number, created_at"

// unreferencedContentPredicate matches content rows that no graph edge and no
// legacy attachment row points at.
const unreferencedContentPredicate = `
	NOT EXISTS (SELECT 1 FROM attachment_references r WHERE r.content_id = c.id)
	AND NOT EXISTS (SELECT 1 FROM legacy_attachments la WHERE la.content_id = c.id)`

// Contents is the attachment content arena. Rows are addressed by integer id
// and are only deleted by the zero-reference sweep.
type Contents struct{}

type contentRow struct {
	ID                int64          `db:"id"`
	UniqueID          string         `db:"unique_id"`
	ContentType       int            `db:"content_type"`
	MimeType          string         `db:"mime_type"`
	ByteCount         int64          `db:"byte_count"`
	EncryptionKey     []byte         `db:"encryption_key"`
	Digest            []byte         `db:"digest"`
	PlaintextHash     sql.NullString `db:"plaintext_hash"`
	LocalRelativePath sql.NullString `db:"local_relative_path"`
	CDNKey            sql.NullString `db:"cdn_key"`
	CDNNumber         int            `db:"cdn_number"`
	CreatedAt         string         `db:"created_at"`
}

func (r contentRow) toModel() (*models.AttachmentContent, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	contentType := models.ContentType(r.ContentType)
	if !contentType.Valid() {
		contentType = models.ContentTypeUnknown
	}
	return &models.AttachmentContent{
		ID:                r.ID,
		UniqueID:          r.UniqueID,
		ContentType:       contentType,
		MimeType:          r.MimeType,
		ByteCount:         r.ByteCount,
		EncryptionKey:     r.EncryptionKey,
		Digest:            r.Digest,
		PlaintextHash:     r.PlaintextHash.String,
		LocalRelativePath: r.LocalRelativePath.String,
		CDNKey:            r.CDNKey.String,
		CDNNumber:         r.CDNNumber,
		CreatedAt:         createdAt,
	}, nil
}

// Insert creates a content row and sets content.ID.
func (Contents) Insert(ctx context.Context, tx WriteTx, content *models.AttachmentContent) (int64, error) {
	if content == nil {
		return 0, fmt.Errorf("content is required")
	}
	if len(content.EncryptionKey) == 0 {
		return 0, fmt.Errorf("encryption key is required")
	}
	if content.ByteCount < 0 {
		return 0, fmt.Errorf("byte_count must be >= 0")
	}
	if !content.ContentType.Valid() {
		return 0, fmt.Errorf("invalid content type %d", int(content.ContentType))
	}
	if strings.TrimSpace(content.UniqueID) == "" {
		content.UniqueID = uuid.NewString()
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ext().ExecContext(ctx, `
		INSERT INTO attachment_contents (
			unique_id, content_type, mime_type, byte_count, encryption_key, digest,
			plaintext_hash, local_relative_path, cdn_key, cdn_number, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		content.UniqueID,
		int(content.ContentType),
		strings.TrimSpace(content.MimeType),
		content.ByteCount,
		content.EncryptionKey,
		content.Digest,
		nullIfEmpty(content.PlaintextHash),
		nullIfEmpty(content.LocalRelativePath),
		nullIfEmpty(content.CDNKey),
		content.CDNNumber,
		formatTime(content.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert attachment content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	content.ID = id
	return id, nil
}

// Get returns one content row, or nil when it does not exist.
func (Contents) Get(ctx context.Context, tx ReadTx, id int64) (*models.AttachmentContent, error) {
	var row contentRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, `SELECT `+contentColumns+` FROM attachment_contents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// FindByPlaintextHash returns a downloaded content row with the same plaintext
// hash and mime type, or nil.
func (Contents) FindByPlaintextHash(ctx context.Context, tx ReadTx, hash, mimeType string) (*models.AttachmentContent, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return nil, nil
	}
	var row contentRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, `
		SELECT `+contentColumns+` FROM attachment_contents
		WHERE plaintext_hash = ? AND mime_type = ? AND local_relative_path IS NOT NULL
		ORDER BY id ASC LIMIT 1`, hash, strings.TrimSpace(mimeType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListUnreferenced returns content rows with zero outstanding references,
// oldest first. A limit <= 0 returns all of them.
func (Contents) ListUnreferenced(ctx context.Context, tx ReadTx, limit int) ([]models.AttachmentContent, error) {
	query := `SELECT ` + prefixedContentColumns("c") + ` FROM attachment_contents c WHERE` + unreferencedContentPredicate + `
		ORDER BY c.created_at ASC, c.id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []contentRow
	if err := sqlx.SelectContext(ctx, tx.ext(), &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.AttachmentContent, 0, len(rows))
	for _, row := range rows {
		content, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *content)
	}
	return out, nil
}

// DeleteIfUnreferenced deletes a content row only if nothing references it at
// the time of the delete. It reports whether the row was removed.
func (Contents) DeleteIfUnreferenced(ctx context.Context, tx WriteTx, id int64) (bool, error) {
	res, err := tx.ext().ExecContext(ctx, `
		DELETE FROM attachment_contents WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM attachment_references r WHERE r.content_id = attachment_contents.id)
		AND NOT EXISTS (SELECT 1 FROM legacy_attachments la WHERE la.content_id = attachment_contents.id)`, id)
	if err != nil {
		return false, fmt.Errorf("delete attachment content %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountByLocalPath counts content rows sharing one blob key.
func (Contents) CountByLocalPath(ctx context.Context, tx ReadTx, path string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, tx.ext(), &n, `SELECT COUNT(*) FROM attachment_contents WHERE local_relative_path = ?`, path)
	return n, err
}

// UpdateContentType records the validated type once content is downloaded and
// backfills the cached type on every edge pointing at it.
func (c Contents) UpdateContentType(ctx context.Context, tx WriteTx, id int64, contentType models.ContentType) error {
	if !contentType.Valid() {
		return fmt.Errorf("invalid content type %d", int(contentType))
	}
	res, err := tx.ext().ExecContext(ctx, `UPDATE attachment_contents SET content_type = ? WHERE id = ?`, int(contentType), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %d", models.ErrContentNotFound, id)
	}
	return References{}.BackfillContentType(ctx, tx, id, contentType)
}

func prefixedContentColumns(alias string) string {
	cols := strings.Split(contentColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col + " AS " + col
	}
	return strings.Join(cols, ", ")
}
