package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"attachgraph/internal/models"
)

const referenceColumns = "owner_type, owner_row_id, content_id, order_in_owner, flags, thread_row_id, caption, sticker_pack_id, sticker_id, content_type, created_at"

// References is the ownership graph: edges from an owner role to a content row.
// Edge mutations never create or delete content rows.
type References struct {
	Log *slog.Logger
}

// NewReferences returns a reference store that logs skipped rows to logger.
func NewReferences(logger *slog.Logger) References {
	return References{Log: logger}
}

type referenceRow struct {
	OwnerType     int            `db:"owner_type"`
	OwnerRowID    int64          `db:"owner_row_id"`
	ContentID     int64          `db:"content_id"`
	OrderInOwner  sql.NullInt64  `db:"order_in_owner"`
	Flags         int            `db:"flags"`
	ThreadRowID   sql.NullInt64  `db:"thread_row_id"`
	Caption       sql.NullString `db:"caption"`
	StickerPackID []byte         `db:"sticker_pack_id"`
	StickerID     sql.NullInt64  `db:"sticker_id"`
	ContentType   sql.NullInt64  `db:"content_type"`
	CreatedAt     string         `db:"created_at"`
}

func (r References) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// toModel validates the row through the owner model. ok is false for
// malformed rows, which have already been logged.
func (r References) toModel(row referenceRow) (ref models.AttachmentReference, ok bool, err error) {
	meta := models.OwnerMetadata{
		Flags:         row.Flags,
		StickerPackID: row.StickerPackID,
	}
	if row.OrderInOwner.Valid {
		meta.OrderInOwner = &row.OrderInOwner.Int64
	}
	if row.ThreadRowID.Valid {
		meta.ThreadRowID = &row.ThreadRowID.Int64
	}
	if row.Caption.Valid {
		meta.Caption = &row.Caption.String
	}
	if row.StickerID.Valid {
		meta.StickerID = &row.StickerID.Int64
	}
	if row.ContentType.Valid {
		ct := models.ContentType(row.ContentType.Int64)
		meta.ContentType = &ct
	}

	id := models.OwnerID{Kind: models.OwnerKind(row.OwnerType), RowID: row.OwnerRowID}
	owner, valid := models.ValidateAndBuild(r.logger(), id, meta)
	if !valid {
		return models.AttachmentReference{}, false, nil
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return models.AttachmentReference{}, false, err
	}
	return models.AttachmentReference{
		ContentID:   row.ContentID,
		Owner:       owner,
		ContentType: meta.ContentType,
		CreatedAt:   createdAt,
	}, true, nil
}

func (r References) collect(rows []referenceRow) ([]models.AttachmentReference, error) {
	out := make([]models.AttachmentReference, 0, len(rows))
	for _, row := range rows {
		ref, ok, err := r.toModel(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// FetchContent returns the content row an edge points at, or nil.
func (References) FetchContent(ctx context.Context, tx ReadTx, contentID int64) (*models.AttachmentContent, error) {
	return Contents{}.Get(ctx, tx, contentID)
}

// FetchReferences returns the edges held by one owner role, ordered by
// order_in_owner for body attachments.
func (r References) FetchReferences(ctx context.Context, tx ReadTx, owner models.OwnerID) ([]models.AttachmentReference, error) {
	var rows []referenceRow
	err := sqlx.SelectContext(ctx, tx.ext(), &rows, `
		SELECT `+referenceColumns+` FROM attachment_references
		WHERE owner_type = ? AND owner_row_id = ?
		ORDER BY order_in_owner ASC, created_at ASC`, int(owner.Kind), owner.RowID)
	if err != nil {
		return nil, fmt.Errorf("fetch references for %s: %w", owner, err)
	}
	return r.collect(rows)
}

// FetchReference returns the single edge of a single-valued role, or nil.
func (r References) FetchReference(ctx context.Context, tx ReadTx, owner models.OwnerID) (*models.AttachmentReference, error) {
	refs, err := r.FetchReferences(ctx, tx, owner)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return &refs[0], nil
}

// FetchReferencesForOwnerRow returns every edge of one message, story or
// thread row across all roles of that source.
func (r References) FetchReferencesForOwnerRow(ctx context.Context, tx ReadTx, source models.OwnerSource, rowID int64) ([]models.AttachmentReference, error) {
	kinds := kindsForSource(source)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("unknown owner source %s", source)
	}
	query, args, err := sqlx.In(`
		SELECT `+referenceColumns+` FROM attachment_references
		WHERE owner_row_id = ? AND owner_type IN (?)
		ORDER BY owner_type ASC, order_in_owner ASC`, rowID, kinds)
	if err != nil {
		return nil, err
	}
	var rows []referenceRow
	if err := sqlx.SelectContext(ctx, tx.ext(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetch references for %s row %d: %w", source, rowID, err)
	}
	return r.collect(rows)
}

// FetchReferencesToContent returns every edge pointing at one content row.
func (r References) FetchReferencesToContent(ctx context.Context, tx ReadTx, contentID int64) ([]models.AttachmentReference, error) {
	var rows []referenceRow
	err := sqlx.SelectContext(ctx, tx.ext(), &rows, `
		SELECT `+referenceColumns+` FROM attachment_references
		WHERE content_id = ?
		ORDER BY owner_type ASC, owner_row_id ASC, order_in_owner ASC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("fetch references to content %d: %w", contentID, err)
	}
	return r.collect(rows)
}

// Create inserts an edge for genuinely new content. If the role already holds
// an edge the existing one is returned unchanged.
func (r References) Create(ctx context.Context, tx WriteTx, owner models.Owner, contentID int64) (models.AttachmentReference, error) {
	ref, err := models.NewAttachmentReference(owner, contentID)
	if err != nil {
		return models.AttachmentReference{}, err
	}
	return r.insertEdge(ctx, tx, ref)
}

// AddOwner adds an edge from newOwner to the same content row as existing,
// deriving role metadata from existing. It never copies content. It fails with
// models.ErrMalformedOwnerMetadata when newOwner's required fields cannot be
// derived, and is a no-op when the role already holds an edge.
func (r References) AddOwner(ctx context.Context, tx WriteTx, existing models.AttachmentReference, newOwner models.OwnerID) error {
	if !newOwner.Inserted() {
		return fmt.Errorf("%w: %s", models.ErrUninsertedOwner, newOwner)
	}
	if existing.Owner == nil {
		return fmt.Errorf("%w: source reference has no owner", models.ErrMalformedOwnerMetadata)
	}
	owner, err := models.BuildOwner(newOwner, existing.Owner.Metadata())
	if err != nil {
		return fmt.Errorf("duplicate %s onto %s: %w", existing.OwnerID(), newOwner, err)
	}
	ref, err := models.NewAttachmentReference(owner, existing.ContentID)
	if err != nil {
		return err
	}
	_, err = r.insertEdge(ctx, tx, ref)
	return err
}

// RemoveOwner deletes exactly one edge from owner to contentID. A missing edge
// is not an error. Content rows are never deleted here, even when this was the
// last reference; the zero-reference sweep owns deletion.
func (r References) RemoveOwner(ctx context.Context, tx WriteTx, owner models.OwnerID, contentID int64) error {
	_, err := tx.ext().ExecContext(ctx, `
		DELETE FROM attachment_references WHERE rowid IN (
			SELECT rowid FROM attachment_references
			WHERE owner_type = ? AND owner_row_id = ? AND content_id = ?
			ORDER BY order_in_owner ASC LIMIT 1
		)`, int(owner.Kind), owner.RowID, contentID)
	if err != nil {
		return fmt.Errorf("remove %s -> content %d: %w", owner, contentID, err)
	}
	return nil
}

// RemoveReference deletes the edge ref describes, matching the body order for
// plural roles.
func (r References) RemoveReference(ctx context.Context, tx WriteTx, ref models.AttachmentReference) error {
	body, ok := ref.Owner.(models.MessageBodyAttachment)
	if !ok {
		return r.RemoveOwner(ctx, tx, ref.OwnerID(), ref.ContentID)
	}
	_, err := tx.ext().ExecContext(ctx, `
		DELETE FROM attachment_references
		WHERE owner_type = ? AND owner_row_id = ? AND content_id = ? AND order_in_owner = ?`,
		int(models.OwnerKindMessageBodyAttachment), body.MessageRowID, ref.ContentID, body.OrderInOwner)
	if err != nil {
		return fmt.Errorf("remove %s order %d: %w", ref.OwnerID(), body.OrderInOwner, err)
	}
	return nil
}

// BackfillContentType sets the cached content type on edges that lack it.
// This is the only in-place mutation of an edge.
func (References) BackfillContentType(ctx context.Context, tx WriteTx, contentID int64, contentType models.ContentType) error {
	if contentType == models.ContentTypeUnknown {
		return nil
	}
	_, err := tx.ext().ExecContext(ctx, `
		UPDATE attachment_references SET content_type = ?
		WHERE content_id = ? AND content_type IS NULL`, int(contentType), contentID)
	if err != nil {
		return fmt.Errorf("backfill content type for content %d: %w", contentID, err)
	}
	return nil
}

// NextBodyOrder returns the order index after the last body attachment of a message.
func (References) NextBodyOrder(ctx context.Context, tx ReadTx, messageRowID int64) (int64, error) {
	var next int64
	err := sqlx.GetContext(ctx, tx.ext(), &next, `
		SELECT COALESCE(MAX(order_in_owner) + 1, 0) FROM attachment_references
		WHERE owner_type = ? AND owner_row_id = ?`, int(models.OwnerKindMessageBodyAttachment), messageRowID)
	return next, err
}

// insertEdge writes ref unless its role already holds an edge. Asking for an
// edge that exists is a no-op success; an existing edge to different content
// is kept and logged.
func (r References) insertEdge(ctx context.Context, tx WriteTx, ref models.AttachmentReference) (models.AttachmentReference, error) {
	existing, err := r.findSlot(ctx, tx, ref)
	if err != nil {
		return models.AttachmentReference{}, err
	}
	if existing != nil {
		if existing.ContentID != ref.ContentID {
			r.logger().Warn("attachment role already referenced; keeping existing edge",
				"owner", ref.OwnerID().String(),
				"existing_content_id", existing.ContentID,
				"requested_content_id", ref.ContentID,
			)
		}
		return *existing, nil
	}

	meta := ref.Owner.Metadata()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	var caption any
	if meta.Caption != nil && strings.TrimSpace(*meta.Caption) != "" {
		caption = *meta.Caption
	}
	var stickerPackID any
	if len(meta.StickerPackID) > 0 {
		stickerPackID = meta.StickerPackID
	}

	_, err = tx.ext().ExecContext(ctx, `
		INSERT INTO attachment_references (
			owner_type, owner_row_id, content_id, order_in_owner, flags, thread_row_id,
			caption, sticker_pack_id, sticker_id, content_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT NULLIF(content_type, 0) FROM attachment_contents WHERE id = ?), ?)
	`,
		int(ref.OwnerID().Kind),
		ref.OwnerID().RowID,
		ref.ContentID,
		nullableInt(meta.OrderInOwner),
		meta.Flags,
		nullableInt(meta.ThreadRowID),
		caption,
		stickerPackID,
		nullableInt(meta.StickerID),
		ref.ContentID,
		formatTime(ref.CreatedAt),
	)
	if err != nil {
		return models.AttachmentReference{}, fmt.Errorf("insert reference %s -> content %d: %w", ref.OwnerID(), ref.ContentID, err)
	}

	stored, err := r.findSlot(ctx, tx, ref)
	if err != nil {
		return models.AttachmentReference{}, err
	}
	if stored == nil {
		return models.AttachmentReference{}, fmt.Errorf("reference %s not found after insert", ref.OwnerID())
	}
	return *stored, nil
}

// findSlot returns the edge occupying ref's uniqueness slot: (owner) for
// single-valued roles, (owner, order) for body attachments.
func (r References) findSlot(ctx context.Context, tx ReadTx, ref models.AttachmentReference) (*models.AttachmentReference, error) {
	id := ref.OwnerID()
	query := `SELECT ` + referenceColumns + ` FROM attachment_references WHERE owner_type = ? AND owner_row_id = ?`
	args := []any{int(id.Kind), id.RowID}
	if id.Kind.IsPlural() {
		query += ` AND order_in_owner = ?`
		args = append(args, ref.OrderInOwner())
	}
	query += ` LIMIT 1`

	var row referenceRow
	err := sqlx.GetContext(ctx, tx.ext(), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored, ok, err := r.toModel(row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: stored edge for %s", models.ErrMalformedOwnerMetadata, id)
	}
	return &stored, nil
}

func kindsForSource(source models.OwnerSource) []int {
	var kinds []int
	for raw := int(models.OwnerKindMessageBodyAttachment); raw <= int(models.OwnerKindThreadWallpaper); raw++ {
		if models.OwnerKind(raw).Source() == source {
			kinds = append(kinds, raw)
		}
	}
	return kinds
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
