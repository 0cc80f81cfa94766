package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/and161185/pixvault/internal/config"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/provider"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pixvault %s (%s)\n", version, buildDate)
		},
	}
}

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), masked(o.cfg))
		},
	})
	return cmd
}

func masked(c config.Config) config.Config {
	if c.Vault.S3.SecretKey != "" {
		c.Vault.S3.SecretKey = "***"
	}
	if c.Database.DSN != "" {
		c.Database.DSN = "***"
	}
	return c
}

func newModelsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable model sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models := provider.Models()
			if o.json() {
				return printJSON(cmd.OutOrStdout(), models)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIZE\tMODEL\tNATIVE\tSTEPS\tVRAM\tDEFAULT")
			for _, m := range models {
				def := ""
				if m.Size == o.cfg.Generation.Model {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%dpx\t%d\t%gGB\t%s\n", m.Size, m.Name, m.NativeSize, m.Steps, m.MinVRAMGB, def)
			}
			return tw.Flush()
		},
	}
}

func newHealthCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the generation backend is reachable",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if !a.provider.HealthCheck(ctx) {
			return fmt.Errorf("%w: %s at %s is not reachable", errs.ErrGeneration, a.provider.Name(), a.cfg.ComfyUI.URL)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is up at %s\n", a.provider.Name(), a.cfg.ComfyUI.URL)
		return nil
	})
	return cmd
}
