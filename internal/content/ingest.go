// Package content turns local data and received protocol pointers into
// attachment content rows.
package content

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"attachgraph/internal/blobstore"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

const (
	encryptionKeySize = 64

	// DefaultMaxOversizeTextBytes bounds the long-body text attachment.
	DefaultMaxOversizeTextBytes = 2 << 20
)

// Pending is attachment data already written to the blob store and waiting
// for its content row. Prepare it before opening the write transaction.
type Pending struct {
	Key           string
	PlaintextHash string
	ByteCount     int64
	MimeType      string
	ContentType   models.ContentType
	EncryptionKey []byte
}

// Options configures an Ingester.
type Options struct {
	MaxOversizeTextBytes int64
	Logger               *slog.Logger
}

// Ingester creates content rows. Blob writes happen in Prepare, outside any
// transaction; Insert only touches the database.
type Ingester struct {
	blobs        blobstore.BlobStore
	maxTextBytes int64
	log          *slog.Logger
}

// NewIngester returns an ingester writing bytes to blobs.
func NewIngester(blobs blobstore.BlobStore, opts Options) *Ingester {
	maxText := opts.MaxOversizeTextBytes
	if maxText <= 0 {
		maxText = DefaultMaxOversizeTextBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{blobs: blobs, maxTextBytes: maxText, log: logger}
}

// Prepare stores the bytes of r and returns the pending content.
func (i *Ingester) Prepare(ctx context.Context, r io.Reader, mimeType string) (*Pending, error) {
	if i == nil || i.blobs == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	res, err := i.blobs.Put(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("store attachment bytes: %w", err)
	}
	key, err := newEncryptionKey()
	if err != nil {
		return nil, err
	}
	return &Pending{
		Key:           res.Key,
		PlaintextHash: res.Digest,
		ByteCount:     res.SizeBytes,
		MimeType:      mimeType,
		ContentType:   models.ContentTypeForMime(mimeType),
		EncryptionKey: key,
	}, nil
}

// PrepareText prepares the oversize-text attachment holding a long body.
func (i *Ingester) PrepareText(ctx context.Context, text string) (*Pending, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("oversize text is empty")
	}
	if int64(len(text)) > i.maxTextBytes {
		return nil, fmt.Errorf("oversize text is %d bytes, limit is %d", len(text), i.maxTextBytes)
	}
	pending, err := i.Prepare(ctx, bytes.NewReader([]byte(text)), models.OversizeTextMimeType)
	if err != nil {
		return nil, err
	}
	pending.ContentType = models.ContentTypeFile
	return pending, nil
}

// Insert creates the content row for p, or returns an existing downloaded
// row with the same plaintext hash and mime type.
func (i *Ingester) Insert(ctx context.Context, tx store.WriteTx, p *Pending) (int64, error) {
	if p == nil {
		return 0, fmt.Errorf("pending content is required")
	}
	existing, err := store.Contents{}.FindByPlaintextHash(ctx, tx, p.PlaintextHash, p.MimeType)
	if err != nil {
		return 0, fmt.Errorf("look up content by hash: %w", err)
	}
	if existing != nil {
		i.log.Debug("reusing attachment content", "content_id", existing.ID, "mime_type", p.MimeType)
		return existing.ID, nil
	}
	return store.Contents{}.Insert(ctx, tx, &models.AttachmentContent{
		ContentType:       p.ContentType,
		MimeType:          p.MimeType,
		ByteCount:         p.ByteCount,
		EncryptionKey:     p.EncryptionKey,
		PlaintextHash:     p.PlaintextHash,
		LocalRelativePath: p.Key,
	})
}

// InsertPointer creates an undownloaded content row from a received pointer.
// Its content type stays unknown until the bytes are fetched and validated.
func (i *Ingester) InsertPointer(ctx context.Context, tx store.WriteTx, ptr models.AttachmentPointer) (int64, error) {
	if err := ptr.Validate(); err != nil {
		return 0, err
	}
	mimeType := strings.ToLower(strings.TrimSpace(ptr.ContentType))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return store.Contents{}.Insert(ctx, tx, &models.AttachmentContent{
		ContentType:   models.ContentTypeUnknown,
		MimeType:      mimeType,
		ByteCount:     ptr.Size,
		EncryptionKey: append([]byte(nil), ptr.Key...),
		Digest:        append([]byte(nil), ptr.Digest...),
		CDNKey:        strings.TrimSpace(ptr.CDNKey),
		CDNNumber:     ptr.CDNNumber,
	})
}

// Discard removes the bytes of a pending content whose transaction failed,
// unless a committed content row already uses the same blob.
func (i *Ingester) Discard(ctx context.Context, st *store.Store, p *Pending) error {
	if p == nil || p.Key == "" {
		return nil
	}
	var users int
	err := st.Read(ctx, func(tx store.ReadTx) error {
		var err error
		users, err = store.Contents{}.CountByLocalPath(ctx, tx, p.Key)
		return err
	})
	if err != nil {
		return err
	}
	if users > 0 {
		return nil
	}
	return i.blobs.Delete(ctx, p.Key)
}

func newEncryptionKey() ([]byte, error) {
	key := make([]byte, encryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate attachment key: %w", err)
	}
	return key, nil
}
