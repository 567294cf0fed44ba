package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/edit"
	"attachgraph/internal/models"
)

type editOptions struct {
	body             string
	quote            string
	quoteBody        string
	oversizeTextFile string
	linkURL          string
	linkTitle        string
	linkDescription  string
	linkImage        string
	linkImageMime    string
}

func newEditCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var opts editOptions
	cmd := &cobra.Command{
		Use:   "edit <message-id>",
		Short: "Edit a message and carry its attachments across revisions",
		Args:  requireRowIDArg("message"),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := parseRowID("message", args[0])
			if err != nil {
				return err
			}
			policy, err := edit.ParseQuotedReplyPolicy(opts.quote)
			if err != nil {
				return err
			}
			req := edit.Request{MessageRowID: rowID, Body: opts.body, QuotedReply: policy}
			if policy == edit.QuotedReplyChange && strings.TrimSpace(opts.quoteBody) != "" {
				req.NewQuotedReply = &models.QuotedReply{Body: opts.quoteBody}
			}

			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				if opts.oversizeTextFile != "" {
					data, err := os.ReadFile(opts.oversizeTextFile)
					if err != nil {
						return err
					}
					if req.NewOversizeText, err = a.ingester.PrepareText(ctx, string(data)); err != nil {
						return err
					}
				}
				if opts.linkURL != "" {
					draft := &edit.LinkPreviewDraft{URL: opts.linkURL, Title: opts.linkTitle, Description: opts.linkDescription}
					if opts.linkImage != "" {
						f, err := os.Open(opts.linkImage)
						if err == nil {
							draft.Image, err = a.ingester.Prepare(ctx, f, opts.linkImageMime)
							f.Close()
						}
						if err != nil {
							if req.NewOversizeText != nil {
								_ = a.ingester.Discard(ctx, a.st, req.NewOversizeText)
							}
							return fmt.Errorf("link preview image: %w", err)
						}
					}
					req.NewLinkPreview = draft
				}

				res, err := a.editor().Apply(ctx, req)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(res)
				}
				return writePlain("edited message %d; prior revision %d\n", res.Latest.RowID, res.Prior.RowID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.body, "body", "", "new message body")
	cmd.Flags().StringVar(&opts.quote, "quote", "keep", "quoted reply policy (keep, change)")
	cmd.Flags().StringVar(&opts.quoteBody, "quote-body", "", "new quote text when --quote=change; empty removes the quote")
	cmd.Flags().StringVar(&opts.oversizeTextFile, "oversize-text-file", "", "file holding the new long-body text")
	cmd.Flags().StringVar(&opts.linkURL, "link-url", "", "new link preview url (https)")
	cmd.Flags().StringVar(&opts.linkTitle, "link-title", "", "new link preview title")
	cmd.Flags().StringVar(&opts.linkDescription, "link-description", "", "new link preview description")
	cmd.Flags().StringVar(&opts.linkImage, "link-image", "", "image file for the new link preview")
	cmd.Flags().StringVar(&opts.linkImageMime, "link-image-mime", "", "mime type of --link-image")
	return cmd
}
