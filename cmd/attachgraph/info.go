package main

import (
	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/store"
)

type infoResponse struct {
	DBPath          string `json:"db_path" yaml:"db_path"`
	BlobDir         string `json:"blob_dir" yaml:"blob_dir"`
	GraphWrites     bool   `json:"graph_writes" yaml:"graph_writes"`
	store.StoreInfo `yaml:",inline"`
}

func newInfoCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show database and attachment graph info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				info, err := a.st.StoreInfo(cmd.Context())
				if err != nil {
					return err
				}
				resp := infoResponse{
					DBPath:      cfg.DBPath,
					BlobDir:     cfg.BlobDir,
					GraphWrites: cfg.Attachments.GraphWrites,
					StoreInfo:   *info,
				}
				if out.structured() {
					return writeStructured(resp)
				}

				_ = writePlain("db_path: %s\n", resp.DBPath)
				_ = writePlain("blob_dir: %s\n", resp.BlobDir)
				_ = writePlain("graph_writes: %t\n", resp.GraphWrites)
				_ = writePlain("schema_version: %d\n", info.SchemaVersion)
				_ = writePlain("messages: %d\n", info.Messages)
				_ = writePlain("contents: %d\n", info.Contents)
				_ = writePlain("references: %d\n", info.References)
				_ = writePlain("legacy_attachments: %d\n", info.LegacyAttachments)
				return writePlain("unreferenced_contents: %d\n", info.UnreferencedContents)
			})
		},
	}
}
