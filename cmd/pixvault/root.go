package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/config"
	"github.com/and161185/pixvault/internal/errs"
)

// rootOptions carries global flags and the lazily built app.
type rootOptions struct {
	configPath string
	output     string

	cfg config.Config
	log *zap.Logger
	app *app

	// newApp is replaced in tests.
	newApp func(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error)
}

func newRootCmd(o *rootOptions) *cobra.Command {
	if o.newApp == nil {
		o.newApp = newApp
	}

	root := &cobra.Command{
		Use:           "pixvault",
		Short:         "Zero-knowledge encrypted image generation vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if o.configPath == "" {
				o.configPath = os.Getenv("PIXVAULT_CONFIG")
			}
			if o.output != "text" && o.output != "json" {
				return fmt.Errorf("--output must be text or json, got %q", o.output)
			}
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			o.cfg, o.log = cfg, log
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return o.close()
		},
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "TOML config file (or set PIXVAULT_CONFIG)")
	root.PersistentFlags().StringVarP(&o.output, "output", "o", "text", "Output format: text, json")

	root.AddCommand(
		newUserCmd(o),
		newGenerateCmd(o),
		newImg2ImgCmd(o),
		newRestyleCmd(o),
		newGalleryCmd(o),
		newConfigCmd(o),
		newModelsCmd(o),
		newHealthCmd(o),
		newVersionCmd(),
	)
	return root
}

// run builds the app on first use and passes it to fn.
func (o *rootOptions) run(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if o.app == nil {
			a, err := o.newApp(cmd.Context(), o.cfg, o.log)
			if err != nil {
				return err
			}
			o.app = a
		}
		err := fn(cmd.Context(), cmd, o.app, args)
		if cerr := o.close(); err == nil {
			err = cerr
		}
		return err
	}
}

func (o *rootOptions) close() error {
	var err error
	if o.app != nil {
		err = o.app.Close()
		o.app = nil
	}
	if o.log != nil {
		_ = o.log.Sync()
	}
	return err
}

func (o *rootOptions) json() bool { return o.output == "json" }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readAll reads a file, or stdin when p is "-".
func readAll(in io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(p)
}

// readPassword returns flagValue when set, otherwise the first line of in.
// The prompt goes to stderr.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("%w: empty password", errs.ErrValidation)
	}
	return pw, nil
}
