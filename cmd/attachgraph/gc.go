package main

import (
	"github.com/spf13/cobra"

	"attachgraph/internal/config"
)

func newGCContentCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var (
		apply     bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "gc-content",
		Short: "Delete attachment content no owner references",
		Long:  "Reports unreferenced attachment content. Pass --apply to delete it along with legacy attachment rows no message lists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize <= 0 {
				batchSize = cfg.Attachments.GCBatchSize
			}
			return withApp(cfg, func(a *app) error {
				res, err := a.sweeper().Run(cmd.Context(), batchSize, apply)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(res)
				}
				if res.DryRun {
					return writePlain("would delete %d content row(s), %d byte(s); %d orphan legacy row(s)\n",
						res.CandidateCount, res.ReclaimedBytes, res.LegacyOrphanCount)
				}
				return writePlain("deleted %d content row(s), %d byte(s); %d legacy row(s); %d failed\n",
					res.DeletedCount, res.ReclaimedBytes, res.LegacyRowsDeleted, res.FailedCount+res.BlobDeleteFailures)
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "delete instead of reporting")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per transaction (default from attachments.gc_batch_size)")
	return cmd
}
