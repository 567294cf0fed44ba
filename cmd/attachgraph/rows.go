package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/models"
	"attachgraph/internal/store"
)

func newThreadCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage conversation threads",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				thread := &models.Thread{}
				err := a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					_, err := store.Messages{}.InsertThread(cmd.Context(), tx, thread)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(thread)
				}
				return writePlain("thread %d\n", thread.RowID)
			})
		},
	})
	return cmd
}

func newStoryCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Manage story posts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a story",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				story := &models.Story{}
				err := a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					_, err := store.Messages{}.InsertStory(cmd.Context(), tx, story)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(story)
				}
				return writePlain("story %d\n", story.RowID)
			})
		},
	})
	return cmd
}

func newMessageCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Create and inspect messages",
	}
	cmd.AddCommand(newMessageCreateCmd(cfg, out), newMessageShowCmd(cfg, out))
	return cmd
}

func newMessageCreateCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var (
		threadID int64
		body     string
		linkURL  string
		sticker  int64
		pack     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a message in a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID <= 0 {
				return fmt.Errorf("--thread is required")
			}
			msg := &models.Message{ThreadRowID: threadID, Body: body}
			if url := strings.TrimSpace(linkURL); url != "" {
				msg.LinkPreview = &models.LinkPreview{URL: url}
			}
			if sticker > 0 {
				if strings.TrimSpace(pack) == "" {
					return fmt.Errorf("--sticker-pack is required with --sticker")
				}
				msg.Sticker = &models.StickerInfo{PackID: []byte(strings.TrimSpace(pack)), StickerID: sticker}
			}
			return withApp(cfg, func(a *app) error {
				err := a.st.Write(cmd.Context(), func(tx store.WriteTx) error {
					ok, err := store.Messages{}.ThreadExists(cmd.Context(), tx, threadID)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("thread %d not found", threadID)
					}
					_, err = store.Messages{}.InsertMessage(cmd.Context(), tx, msg)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(msg)
				}
				return writePlain("message %d\n", msg.RowID)
			})
		},
	}
	cmd.Flags().Int64Var(&threadID, "thread", 0, "thread row id")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringVar(&linkURL, "link-url", "", "link preview url")
	cmd.Flags().Int64Var(&sticker, "sticker", 0, "sticker id; marks the message as a sticker message")
	cmd.Flags().StringVar(&pack, "sticker-pack", "", "sticker pack id")
	return cmd
}

type messageDetail struct {
	Message        *models.Message  `json:"message" yaml:"message"`
	PriorRevisions []models.Message `json:"prior_revisions,omitempty" yaml:"prior_revisions,omitempty"`
}

func newMessageShowCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <message-row-id>",
		Short: "Show a message and its prior revisions",
		Args:  requireRowIDArg("message"),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, _ := parseRowID("message", args[0])
			return withApp(cfg, func(a *app) error {
				var detail messageDetail
				err := a.st.Read(cmd.Context(), func(tx store.ReadTx) error {
					msg, err := store.Messages{}.GetMessage(cmd.Context(), tx, rowID)
					if err != nil {
						return err
					}
					if msg == nil {
						return fmt.Errorf("message %d not found", rowID)
					}
					detail.Message = msg
					detail.PriorRevisions, err = store.Messages{}.ListPriorRevisions(cmd.Context(), tx, rowID)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(detail)
				}
				writeMessageLine(*detail.Message)
				for _, prior := range detail.PriorRevisions {
					_ = writePlain("  prior ")
					writeMessageLine(prior)
				}
				return nil
			})
		},
	}
}

func writeMessageLine(msg models.Message) {
	_ = writePlain("%d [%s] %s %q\n", msg.RowID, msg.EditState, formatTime(msg.CreatedAt), msg.Body)
}
