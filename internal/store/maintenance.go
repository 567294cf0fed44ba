package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StoreInfo summarizes the database for the info command.
type StoreInfo struct {
	SchemaVersion        int `json:"schema_version" yaml:"schema_version"`
	Messages             int `json:"messages" yaml:"messages"`
	Contents             int `json:"contents" yaml:"contents"`
	References           int `json:"references" yaml:"references"`
	LegacyAttachments    int `json:"legacy_attachments" yaml:"legacy_attachments"`
	UnreferencedContents int `json:"unreferenced_contents" yaml:"unreferenced_contents"`
}

// StoreInfo returns row counts and the applied schema version.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{}
	err := s.Read(ctx, func(tx ReadTx) error {
		counts := []struct {
			dst   *int
			query string
		}{
			{&info.SchemaVersion, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`},
			{&info.Messages, `SELECT COUNT(*) FROM messages`},
			{&info.Contents, `SELECT COUNT(*) FROM attachment_contents`},
			{&info.References, `SELECT COUNT(*) FROM attachment_references`},
			{&info.LegacyAttachments, `SELECT COUNT(*) FROM legacy_attachments`},
			{&info.UnreferencedContents, `SELECT COUNT(*) FROM attachment_contents c WHERE` + unreferencedContentPredicate},
		}
		for _, c := range counts {
			if err := sqlx.GetContext(ctx, tx.ext(), c.dst, c.query); err != nil {
				return fmt.Errorf("store info: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
