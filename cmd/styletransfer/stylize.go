package main

import (
	"fmt"
	"log/slog"

	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/spf13/cobra"
)

func newStylizeCmd() *cobra.Command {
	var (
		input      string
		output     string
		style      string
		matchInput bool
	)

	cmd := &cobra.Command{
		Use:   "stylize",
		Short: "Stylize a single image with one blocking inference cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if input == "" || output == "" {
				return fmt.Errorf("--input and --output are required")
			}
			if style != "" {
				cfg.Paths.StylePath = style
			}

			frame, err := imageio.Load(input)
			if err != nil {
				return err
			}

			width, height := cfg.Engine.Width, cfg.Engine.Height
			if matchInput {
				width, height = frame.Width, frame.Height
			}

			eng, err := newEngine(cmd.Context(), cfg, width, height, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if err := eng.SetInput(frame); err != nil {
				return err
			}

			if err := eng.RunBlocking(cmd.Context()); err != nil {
				return err
			}

			out, ok := eng.Poll()
			if !ok {
				return fmt.Errorf("no output published")
			}
			defer eng.Recycle(out)

			if err := imageio.Save(output, out.Pixels); err != nil {
				return err
			}

			slog.Info("stylized image written",
				"path", output,
				"width", out.Pixels.Width,
				"height", out.Pixels.Height,
				"duration_ms", out.Duration.Milliseconds(),
			)

			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Content image to stylize (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the stylized image (required)")
	cmd.Flags().StringVar(&style, "style", "", "Style image (overrides paths.style_path)")
	cmd.Flags().BoolVar(&matchInput, "match-input", true, "Use the input dimensions as the logical size instead of engine.width/height")

	return cmd
}
