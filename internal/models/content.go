package models

import (
	"fmt"
	"strings"
	"time"
)

// ContentType is the validated rendering class of attachment content.
type ContentType int

const (
	ContentTypeUnknown ContentType = iota
	ContentTypeFile
	ContentTypeImage
	ContentTypeVideo
	ContentTypeAnimatedImage
	ContentTypeAudio
)

// OversizeTextMimeType marks legacy attachments that hold a message's long body.
const OversizeTextMimeType = "text/x-signal-plain"

var contentTypeNames = map[ContentType]string{
	ContentTypeUnknown:       "unknown",
	ContentTypeFile:          "file",
	ContentTypeImage:         "image",
	ContentTypeVideo:         "video",
	ContentTypeAnimatedImage: "animated_image",
	ContentTypeAudio:         "audio",
}

func (c ContentType) String() string {
	if name, ok := contentTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("content_type(%d)", int(c))
}

// Valid reports whether c is one of the known content types.
func (c ContentType) Valid() bool {
	_, ok := contentTypeNames[c]
	return ok
}

func ParseContentType(raw string) (ContentType, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ContentTypeUnknown, fmt.Errorf("content type is required")
	}
	for ct, name := range contentTypeNames {
		if name == value {
			return ct, nil
		}
	}
	return ContentTypeUnknown, fmt.Errorf("invalid content type: %s", value)
}

// ContentTypeForMime infers the content type from a mime type. Empty or
// unrecognized mime types map to file; gif and webp map to animated images.
func ContentTypeForMime(mimeType string) ContentType {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case mimeType == "":
		return ContentTypeFile
	case mimeType == "image/gif", mimeType == "image/webp":
		return ContentTypeAnimatedImage
	case strings.HasPrefix(mimeType, "image/"):
		return ContentTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return ContentTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return ContentTypeAudio
	default:
		return ContentTypeFile
	}
}

// AttachmentContent is one physical piece of encrypted attachment data.
// Many references may point at the same content row.
type AttachmentContent struct {
	ID                int64       `json:"id"`
	UniqueID          string      `json:"unique_id"`
	ContentType       ContentType `json:"content_type"`
	MimeType          string      `json:"mime_type"`
	ByteCount         int64       `json:"byte_count"`
	EncryptionKey     []byte      `json:"-"`
	Digest            []byte      `json:"-"`
	PlaintextHash     string      `json:"plaintext_hash,omitempty"`
	LocalRelativePath string      `json:"local_relative_path,omitempty"`
	CDNKey            string      `json:"cdn_key,omitempty"`
	CDNNumber         int         `json:"cdn_number,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// IsDownloaded reports whether the content bytes are available locally.
func (c *AttachmentContent) IsDownloaded() bool {
	return c != nil && c.LocalRelativePath != ""
}

func (c ContentType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ContentType) UnmarshalText(text []byte) error {
	parsed, err := ParseContentType(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
