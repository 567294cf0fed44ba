package models

import (
	"fmt"
	"strings"
)

// AttachmentPointer is a received protocol pointer to remote attachment content.
type AttachmentPointer struct {
	CDNKey      string        `json:"cdn_key"`
	CDNNumber   int           `json:"cdn_number"`
	Key         []byte        `json:"key"`
	Digest      []byte        `json:"digest,omitempty"`
	Size        int64         `json:"size"`
	ContentType string        `json:"content_type,omitempty"`
	FileName    string        `json:"file_name,omitempty"`
	Caption     string        `json:"caption,omitempty"`
	Flags       RenderingFlag `json:"flags,omitempty"`
}

// Validate checks the fields needed to create a content row from the pointer.
func (p AttachmentPointer) Validate() error {
	if strings.TrimSpace(p.CDNKey) == "" {
		return fmt.Errorf("attachment pointer cdn_key is required")
	}
	if len(p.Key) == 0 {
		return fmt.Errorf("attachment pointer key is required")
	}
	if p.Size < 0 {
		return fmt.Errorf("attachment pointer size must be >= 0")
	}
	return nil
}
