package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/content"
	"attachgraph/internal/models"
	"attachgraph/internal/resource"
	"attachgraph/internal/store"
)

func newAttachCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach content to messages, stories and threads",
	}
	cmd.AddCommand(newAttachFileCmd(cfg, out), newAttachPointerCmd(cfg, out), newAttachQuoteCmd(cfg, out))
	return cmd
}

type attachFileOptions struct {
	kind    models.OwnerKind
	ownerID int64
	mime    string
	caption string
	loop    bool
}

func newAttachFileCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var (
		opts     attachFileOptions
		kindName string
	)
	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Store a local file and attach it in one role",
		Args:  requireExactlyArgs(1, "file path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.kind.UnmarshalText([]byte(kindName)); err != nil {
				return err
			}
			if opts.ownerID <= 0 {
				return fmt.Errorf("--owner is required")
			}
			if opts.kind == models.OwnerKindQuotedReplyAttachment {
				return fmt.Errorf("quoted reply thumbnails are created with 'attach quote'")
			}
			return withApp(cfg, func(a *app) error {
				pending, err := prepareFile(cmd.Context(), a, args[0], opts)
				if err != nil {
					return err
				}
				var ref *resource.Reference
				err = a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					contentID, err := a.ingester.Insert(cmd.Context(), tx, pending)
					if err != nil {
						return err
					}
					ref, err = attachInRole(cmd.Context(), a, tx, opts, contentID)
					return err
				})
				if err != nil {
					if discardErr := a.ingester.Discard(cmd.Context(), a.st, pending); discardErr != nil {
						a.log.Warn("failed to discard attachment bytes", "key", pending.Key, "error", discardErr)
					}
					return err
				}
				return writeReference(out, ref)
			})
		},
	}
	cmd.Flags().StringVar(&kindName, "kind", models.OwnerKindMessageBodyAttachment.String(), "owner kind")
	cmd.Flags().Int64Var(&opts.ownerID, "owner", 0, "owner row id (message, story or thread, per --kind)")
	cmd.Flags().StringVar(&opts.mime, "mime", "", "mime type (default application/octet-stream)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "caption for body attachments and story media")
	cmd.Flags().BoolVar(&opts.loop, "loop", false, "loop story media playback")
	return cmd
}

// prepareFile writes the file's bytes to the blob store, outside any transaction.
func prepareFile(ctx context.Context, a *app, path string, opts attachFileOptions) (*content.Pending, error) {
	if opts.kind == models.OwnerKindMessageOversizeText {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return a.ingester.PrepareText(ctx, string(data))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return a.ingester.Prepare(ctx, f, opts.mime)
}

func attachInRole(ctx context.Context, a *app, tx store.WriteTx, opts attachFileOptions, contentID int64) (*resource.Reference, error) {
	switch opts.kind {
	case models.OwnerKindStoryMedia:
		return a.facade.AttachStoryMedia(ctx, tx, opts.ownerID, contentID, opts.caption, opts.loop)
	case models.OwnerKindStoryLinkPreview:
		return a.facade.AttachStoryLinkPreview(ctx, tx, opts.ownerID, contentID)
	case models.OwnerKindThreadWallpaper:
		return a.facade.AttachThreadWallpaper(ctx, tx, opts.ownerID, contentID)
	}

	msg, err := store.Messages{}.GetMessage(ctx, tx, opts.ownerID)
	if err != nil || msg == nil {
		return nil, notFound(err, "message", opts.ownerID)
	}
	switch opts.kind {
	case models.OwnerKindMessageBodyAttachment:
		refs, err := a.facade.AddBodyAttachments(ctx, tx, msg, []resource.BodyAttachment{{ContentID: contentID, Caption: opts.caption}})
		if err != nil || len(refs) == 0 {
			return nil, err
		}
		return &refs[0], nil
	case models.OwnerKindMessageOversizeText:
		return a.facade.AttachOversizeText(ctx, tx, msg, contentID)
	case models.OwnerKindMessageLinkPreview:
		return a.facade.AttachLinkPreview(ctx, tx, msg, contentID)
	case models.OwnerKindMessageSticker:
		return a.facade.AttachSticker(ctx, tx, msg, contentID)
	case models.OwnerKindMessageContactAvatar:
		return a.facade.AttachContactAvatar(ctx, tx, msg, contentID)
	default:
		return nil, fmt.Errorf("cannot attach files as %s", opts.kind)
	}
}

func newAttachPointerCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var messageID int64
	cmd := &cobra.Command{
		Use:   "pointer <pointers.json>",
		Short: "Attach received attachment pointers as body attachments",
		Args:  requireExactlyArgs(1, "pointer file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var pointers []models.AttachmentPointer
			if err := json.Unmarshal(data, &pointers); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withApp(cfg, func(a *app) error {
				var refs []resource.Reference
				err := a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					msg, err := store.Messages{}.GetMessage(cmd.Context(), tx, messageID)
					if err != nil || msg == nil {
						return notFound(err, "message", messageID)
					}
					refs, err = a.facade.CreateAttachmentPointers(cmd.Context(), tx, msg, pointers)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(refs)
				}
				return writePlain("attached %d pointer(s) to message %d\n", len(refs), messageID)
			})
		},
	}
	cmd.Flags().Int64Var(&messageID, "message", 0, "message row id")
	return cmd
}

func newAttachQuoteCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var replyID, quotedID int64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Give a reply the thumbnail of the message it quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				var ref *resource.Reference
				err := a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					msgs := store.Messages{}
					reply, err := msgs.GetMessage(cmd.Context(), tx, replyID)
					if err != nil || reply == nil {
						return notFound(err, "message", replyID)
					}
					quoted, err := msgs.GetMessage(cmd.Context(), tx, quotedID)
					if err != nil || quoted == nil {
						return notFound(err, "message", quotedID)
					}
					if ref, err = a.facade.CreateQuotedReplyThumbnail(cmd.Context(), tx, reply, quoted); err != nil {
						return err
					}
					// The quote header lives on the message row.
					return msgs.UpdateMessage(cmd.Context(), tx, reply)
				})
				if err != nil {
					return err
				}
				if ref == nil {
					return writePlain("quoted message %d has no body attachments\n", quotedID)
				}
				return writeReference(out, ref)
			})
		},
	}
	cmd.Flags().Int64Var(&replyID, "message", 0, "reply message row id")
	cmd.Flags().Int64Var(&quotedID, "quoted", 0, "quoted message row id")
	return cmd
}

func writeReference(out *outputFlags, ref *resource.Reference) error {
	if out.structured() {
		return writeStructured(ref)
	}
	if ref == nil {
		return nil
	}
	return writePlain("%s %s owner=%d content=%d\n", ref.Representation, ref.Kind, ref.OwnerRowID, ref.ContentID)
}
