package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/pixvault/internal/model"
)

// seedFlag is an optional int64 flag; unset means a random seed.
type seedFlag struct{ v *int64 }

func (s *seedFlag) String() string {
	if s.v == nil {
		return ""
	}
	return strconv.FormatInt(*s.v, 10)
}

func (s *seedFlag) Set(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	s.v = &n
	return nil
}

func (s *seedFlag) Type() string { return "int" }

func newGenerateCmd(o *rootOptions) *cobra.Command {
	var (
		p    model.GenerationParams
		seed seedFlag
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Generate an image and store it encrypted",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		p.Prompt = strings.Join(args, " ")
		p.Seed = seed.v
		art, err := a.gen.Generate(ctx, p)
		if err != nil {
			return err
		}
		return printStored(o, cmd, art)
	})
	f := cmd.Flags()
	f.StringVarP(&p.NegativePrompt, "negative", "n", "", "negative prompt")
	f.IntVarP(&p.Width, "width", "W", 0, "width in pixels (config default when 0)")
	f.IntVarP(&p.Height, "height", "H", 0, "height in pixels (config default when 0)")
	f.IntVar(&p.Steps, "steps", 0, "sampling steps (config default when 0)")
	f.Float64Var(&p.CFGScale, "cfg", 0, "CFG scale (config default when 0)")
	f.StringVarP(&p.Model, "model", "m", "", "model size: small, medium or large")
	f.Var(&seed, "seed", "seed (random when unset)")
	return cmd
}

func transformFlags(cmd *cobra.Command, p *model.TransformParams, seed *seedFlag, withSeed bool) {
	f := cmd.Flags()
	f.StringVarP(&p.NegativePrompt, "negative", "n", "", "negative prompt")
	f.Float64VarP(&p.Strength, "strength", "s", 0.75, "how much to change, in (0, 1]")
	f.StringVarP(&p.Model, "model", "m", "", "model size: small, medium or large")
	if withSeed {
		f.IntVar(&p.Steps, "steps", 0, "sampling steps (config default when 0)")
		f.Float64Var(&p.CFGScale, "cfg", 0, "CFG scale (config default when 0)")
		f.Var(seed, "seed", "seed (random when unset)")
	}
}

func newImg2ImgCmd(o *rootOptions) *cobra.Command {
	var (
		p    model.TransformParams
		seed seedFlag
	)
	cmd := &cobra.Command{
		Use:   "img2img <input-file|-> <prompt...>",
		Short: "Transform an existing image file and store the result encrypted",
		Args:  cobra.MinimumNArgs(2),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		input, err := readAll(cmd.InOrStdin(), args[0])
		if err != nil {
			return fmt.Errorf("read input image: %w", err)
		}
		p.Prompt = strings.Join(args[1:], " ")
		p.Seed = seed.v
		art, err := a.gen.Transform(ctx, input, p)
		if err != nil {
			return err
		}
		return printStored(o, cmd, art)
	})
	transformFlags(cmd, &p, &seed, true)
	return cmd
}

func newRestyleCmd(o *rootOptions) *cobra.Command {
	var p model.TransformParams
	cmd := &cobra.Command{
		Use:   "restyle <id> <style prompt...>",
		Short: "Restyle a gallery image, keeping its steps, cfg and seed",
		Args:  cobra.MinimumNArgs(2),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		p.Prompt = strings.Join(args[1:], " ")
		art, err := a.gen.Restyle(ctx, id, p)
		if err != nil {
			return err
		}
		return printStored(o, cmd, art)
	})
	transformFlags(cmd, &p, nil, false)
	return cmd
}

func printStored(o *rootOptions, cmd *cobra.Command, a *model.Artifact) error {
	if o.json() {
		return printJSON(cmd.OutOrStdout(), artifactView(*a))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored image #%d\n", a.ID)
	return nil
}
