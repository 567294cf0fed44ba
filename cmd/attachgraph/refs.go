package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/models"
	"attachgraph/internal/resource"
	"attachgraph/internal/store"
)

func newRefsCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "List attachment references",
	}
	cmd.AddCommand(
		newRefsOwnerCmd(cfg, out, "message", func(ctx context.Context, a *app, tx store.ReadTx, id int64) ([]resource.Reference, error) {
			msg, err := store.Messages{}.GetMessage(ctx, tx, id)
			if err != nil || msg == nil {
				return nil, notFound(err, "message", id)
			}
			return a.facade.AllReferences(ctx, tx, msg)
		}),
		newRefsOwnerCmd(cfg, out, "story", func(ctx context.Context, a *app, tx store.ReadTx, id int64) ([]resource.Reference, error) {
			return collectRoles(
				func() (*resource.Reference, error) { return a.facade.StoryMedia(ctx, tx, id) },
				func() (*resource.Reference, error) { return a.facade.StoryLinkPreview(ctx, tx, id) },
			)
		}),
		newRefsOwnerCmd(cfg, out, "thread", func(ctx context.Context, a *app, tx store.ReadTx, id int64) ([]resource.Reference, error) {
			return collectRoles(func() (*resource.Reference, error) { return a.facade.ThreadWallpaper(ctx, tx, id) })
		}),
		newRefsContentCmd(cfg, out),
	)
	return cmd
}

type refsLoader func(ctx context.Context, a *app, tx store.ReadTx, rowID int64) ([]resource.Reference, error)

func newRefsOwnerCmd(cfg *config.Config, out *outputFlags, what string, load refsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   what + " <" + what + "-row-id>",
		Short: "List the attachments of a " + what,
		Args:  requireRowIDArg(what),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, _ := parseRowID(what, args[0])
			return withApp(cfg, func(a *app) error {
				var refs []resource.Reference
				err := a.st.Read(cmd.Context(), func(tx store.ReadTx) error {
					var err error
					refs, err = load(cmd.Context(), a, tx, rowID)
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(refs)
				}
				for _, ref := range refs {
					_ = writePlain("%s %s owner=%d content=%d order=%d",
						ref.Representation, ref.Kind, ref.OwnerRowID, ref.ContentID, ref.OrderInOwner)
					if ref.LegacyID() != "" {
						_ = writePlain(" legacy=%s", ref.LegacyID())
					}
					_ = writePlain("\n")
				}
				return nil
			})
		},
	}
}

type contentEdge struct {
	Kind         models.OwnerKind    `json:"kind" yaml:"kind"`
	OwnerRowID   int64               `json:"owner_row_id" yaml:"owner_row_id"`
	OrderInOwner int64               `json:"order_in_owner" yaml:"order_in_owner"`
	ContentType  *models.ContentType `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

func newRefsContentCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "content <content-id>",
		Short: "List every graph edge pointing at a content row",
		Args:  requireRowIDArg("content"),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID, _ := parseRowID("content", args[0])
			return withApp(cfg, func(a *app) error {
				var edges []contentEdge
				err := a.st.Read(cmd.Context(), func(tx store.ReadTx) error {
					refs, err := store.NewReferences(a.log).FetchReferencesToContent(cmd.Context(), tx, contentID)
					for _, ref := range refs {
						id := ref.OwnerID()
						edges = append(edges, contentEdge{Kind: id.Kind, OwnerRowID: id.RowID, OrderInOwner: ref.OrderInOwner(), ContentType: ref.ContentType})
					}
					return err
				})
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(edges)
				}
				for _, e := range edges {
					_ = writePlain("%s owner=%d order=%d\n", e.Kind, e.OwnerRowID, e.OrderInOwner)
				}
				return nil
			})
		},
	}
}

func collectRoles(fns ...func() (*resource.Reference, error)) ([]resource.Reference, error) {
	var out []resource.Reference
	for _, fn := range fns {
		ref, err := fn()
		if err != nil {
			return nil, err
		}
		if ref != nil {
			out = append(out, *ref)
		}
	}
	return out, nil
}

func notFound(err error, what string, rowID int64) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %d not found", what, rowID)
}
