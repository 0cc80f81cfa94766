package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

func newGalleryCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gallery",
		Aliases: []string{"g"},
		Short:   "Browse, export and delete stored images",
	}
	cmd.AddCommand(
		newListCmd(o),
		newShowCmd(o),
		newExportCmd(o),
		newDeleteCmd(o),
		newSearchCmd(o),
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid image id %q", errs.ErrValidation, s)
	}
	return id, nil
}

func artifactView(a model.Artifact) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"vault_path": a.VaultPath,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func metadataView(id int64, m model.ArtifactMetadata) map[string]any {
	return map[string]any{
		"id":              id,
		"prompt":          m.Prompt,
		"negative_prompt": m.NegativePrompt,
		"width":           m.Width,
		"height":          m.Height,
		"steps":           m.Steps,
		"cfg_scale":       m.CFGScale,
		"seed":            m.Seed,
		"sampler":         m.Sampler,
		"model":           m.Model,
		"provider":        m.Provider,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newListCmd(o *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored images, newest first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		items, err := a.gallery.List(ctx, limit, offset)
		if err != nil {
			return err
		}
		if o.json() {
			rows := make([]map[string]any, 0, len(items))
			for _, it := range items {
				rows = append(rows, artifactView(it))
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "gallery is empty")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED")
		for _, it := range items {
			fmt.Fprintf(tw, "%d\t%s\n", it.ID, it.CreatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	})
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "maximum number of images")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of images to skip")
	return cmd
}

func newShowCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Decrypt and print image metadata",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		m, err := a.gallery.Metadata(ctx, id)
		if err != nil {
			return err
		}
		if o.json() {
			return printJSON(cmd.OutOrStdout(), metadataView(id, m))
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Image\t#%d\n", id)
		fmt.Fprintf(tw, "Prompt\t%s\n", m.Prompt)
		if m.NegativePrompt != "" {
			fmt.Fprintf(tw, "Negative\t%s\n", m.NegativePrompt)
		}
		fmt.Fprintf(tw, "Size\t%dx%d\n", m.Width, m.Height)
		fmt.Fprintf(tw, "Steps\t%d\n", m.Steps)
		fmt.Fprintf(tw, "CFG scale\t%g\n", m.CFGScale)
		fmt.Fprintf(tw, "Seed\t%d\n", m.Seed)
		fmt.Fprintf(tw, "Sampler\t%s\n", m.Sampler)
		fmt.Fprintf(tw, "Model\t%s\n", m.Model)
		fmt.Fprintf(tw, "Provider\t%s\n", m.Provider)
		fmt.Fprintf(tw, "Created\t%s\n", m.CreatedAt.Local().Format(time.DateTime))
		return tw.Flush()
	})
	return cmd
}

func newExportCmd(o *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Decrypt an image to a file, or to stdout with -O -",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if out == "-" {
			_, err := a.gallery.Export(ctx, id, cmd.OutOrStdout())
			return err
		}
		if out == "" {
			out = fmt.Sprintf("pixvault_%d.png", id)
		}
		path, err := a.gallery.ExportFile(ctx, id, out)
		if err != nil {
			return err
		}
		if abs, aerr := filepath.Abs(path); aerr == nil {
			path = abs
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported image #%d to %s\n", id, path)
		return nil
	})
	cmd.Flags().StringVarP(&out, "out", "O", "", "output path (default pixvault_<id>.png, - for stdout)")
	return cmd
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Securely delete an image and its record",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !yes {
			return fmt.Errorf("%w: deleting image #%d cannot be undone, pass --yes to confirm", errs.ErrValidation, id)
		}
		ok, err := a.gallery.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("image #%d: %w", id, errs.ErrNotFound)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted image #%d\n", id)
		return nil
	})
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newSearchCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search prompts (decrypts metadata locally)",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.gallery.Search(ctx, args[0], limit)
		if err != nil {
			return err
		}
		var rows []map[string]any
		skipped := 0
		for _, r := range res {
			if r.Err != nil {
				skipped++
				continue
			}
			rows = append(rows, metadataView(r.Artifact.ID, r.Metadata))
		}
		if skipped > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d image(s) could not be decrypted\n", skipped)
		}
		if o.json() {
			if rows == nil {
				rows = []map[string]any{}
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no images match %q\n", args[0])
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPROMPT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\n", r["id"], r["prompt"])
		}
		return tw.Flush()
	})
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "maximum number of images to scan")
	return cmd
}
