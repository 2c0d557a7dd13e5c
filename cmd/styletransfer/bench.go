package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/example/go-style-transfer/internal/bench"
	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		input        string
		runs         int
		format       string
		fpsThreshold float64
		cpuprofile   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark blocking inference latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			frame := benchFrame(cfg.Engine.Width, cfg.Engine.Height)
			if input != "" {
				frame, err = imageio.Load(input)
				if err != nil {
					return err
				}
			}

			eng, err := newEngine(cmd.Context(), cfg, cfg.Engine.Width, cfg.Engine.Height, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("create cpu profile: %w", err)
				}
				defer func() { _ = f.Close() }()

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpu profile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}

			results, err := bench.Run(cmd.Context(), eng, frame, runs)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))
			slog.Debug("bench finished", "runs", len(results), "mean_ms", stats.Mean.Milliseconds())

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, out); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckFPSThreshold(stats.MeanFPS(), fpsThreshold)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Content image (default: synthetic gradient at engine size)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of inference runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&fpsThreshold, "fps-threshold", 0, "Exit non-zero if mean FPS falls below this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile covering the runs")

	return cmd
}

// benchFrame returns a deterministic RGB gradient.
func benchFrame(width, height int) codec.Pixels {
	p := codec.NewPixels(width, height, 3)
	for y := range height {
		for x := range width {
			i := (y*width + x) * 3
			p.Pix[i] = uint8(x * 255 / max(width-1, 1))
			p.Pix[i+1] = uint8(y * 255 / max(height-1, 1))
			p.Pix[i+2] = 128
		}
	}
	return p
}
