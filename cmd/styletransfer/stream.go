package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/spf13/cobra"
)

func newStreamCmd() *cobra.Command {
	var (
		framesDir  string
		outDir     string
		styles     []string
		styleEvery int
		fps        float64
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stylize a directory of frames as a stream",
		Long: "Feeds every image in --frames to the engine in name order and writes each\n" +
			"published output to --out. With --fps the frames are fed on a fixed clock and\n" +
			"frames that arrive while a cycle is in flight replace each other; without it\n" +
			"each frame waits for its own output.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if framesDir == "" || outDir == "" {
				return fmt.Errorf("--frames and --out are required")
			}
			if fps < 0 {
				return fmt.Errorf("--fps must not be negative")
			}

			frames, err := listFrames(framesDir)
			if err != nil {
				return err
			}

			if len(styles) == 0 && cfg.Paths.StylePath != "" {
				styles = []string{cfg.Paths.StylePath}
			}
			cfg.Paths.StylePath = ""

			stylePix := make([]codec.Pixels, 0, len(styles))
			for _, path := range styles {
				p, err := imageio.Load(path)
				if err != nil {
					return fmt.Errorf("load style: %w", err)
				}
				stylePix = append(stylePix, p)
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			eng, err := newEngine(cmd.Context(), cfg, cfg.Engine.Width, cfg.Engine.Height, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			opts := streamOptions{
				Frames:     frames,
				OutDir:     outDir,
				Styles:     stylePix,
				StyleEvery: styleEvery,
				Background: cfg.Engine.Background,
			}
			if fps > 0 {
				opts.Interval = time.Duration(float64(time.Second) / fps)
			}

			res, err := runStream(cmd.Context(), eng, opts)
			if err != nil {
				return err
			}

			st := eng.Stats()
			slog.Info("stream finished",
				"frames", res.Fed,
				"written", res.Written,
				"failed", res.Failed,
				"input_drops", st.InputDrops,
				"unread_drops", st.UnreadDrops,
			)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d frames fed, %d written, %d failed\n", res.Fed, res.Written, res.Failed)
			return err
		},
	}

	cmd.Flags().StringVar(&framesDir, "frames", "", "Directory of input frames (required)")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory for stylized frames (required)")
	cmd.Flags().StringArrayVar(&styles, "style", nil, "Style image; repeat to cycle through several")
	cmd.Flags().IntVar(&styleEvery, "style-every", 0, "Switch to the next --style every N frames (0 = never)")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Feed frames at this rate (0 = wait for each output)")

	return cmd
}

// listFrames returns the image files in dir sorted by name.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() || !imageio.IsImagePath(e.Name()) {
			continue
		}
		frames = append(frames, filepath.Join(dir, e.Name()))
	}
	slices.Sort(frames)

	if len(frames) == 0 {
		return nil, fmt.Errorf("no image frames in %s", dir)
	}

	return frames, nil
}

type streamOptions struct {
	Frames     []string
	OutDir     string
	Styles     []codec.Pixels
	StyleEvery int
	// Interval paces the producer. Zero feeds the next frame only after the
	// previous one produced an output or failed.
	Interval time.Duration
	// Background runs cycles on the engine worker instead of the caller.
	Background bool
}

type streamResult struct {
	Fed     int
	Written int
	Failed  int
}

// errFrameFailed marks a frame whose cycle failed; the stream moves on.
var errFrameFailed = errors.New("frame inference failed")

// runStream feeds opts.Frames to a freshly built engine. The engine numbers
// inputs from 1, so output Seq n belongs to opts.Frames[n-1], and every
// failure the engine counts belongs to this stream.
func runStream(ctx context.Context, eng *engine.Engine, opts streamOptions) (streamResult, error) {
	var (
		res     streamResult
		lastSeq uint64
	)

	write := func(out *engine.Output) error {
		defer eng.Recycle(out)
		lastSeq = max(lastSeq, out.Seq)

		path := outputPath(opts, out.Seq)
		if err := imageio.Save(path, out.Pixels); err != nil {
			return err
		}
		res.Written++

		slog.Debug("frame written", "path", path, "seq", out.Seq, "duration_ms", out.Duration.Milliseconds())

		return nil
	}

	if opts.Background {
		if err := eng.StartWorker(ctx); err != nil {
			return res, err
		}
		defer eng.StopWorker()
	}

	for i, path := range opts.Frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if len(opts.Styles) > 0 && (i == 0 || (opts.StyleEvery > 0 && i%opts.StyleEvery == 0)) {
			idx := 0
			if opts.StyleEvery > 0 {
				idx = (i / opts.StyleEvery) % len(opts.Styles)
			}
			if err := eng.SetStyle(opts.Styles[idx]); err != nil {
				return res, err
			}
		}

		frame, err := imageio.Load(path)
		if err != nil {
			return res, err
		}

		if err := eng.SetInput(frame); err != nil {
			return res, err
		}
		res.Fed++
		seq := uint64(res.Fed)

		switch {
		case !opts.Background:
			err = runFrame(ctx, eng, write)
		case opts.Interval == 0:
			err = awaitSeq(ctx, eng, seq, write)
		default:
			err = pace(ctx, eng, opts.Interval, write)
		}

		if err != nil && !errors.Is(err, errFrameFailed) {
			return res, err
		}
	}

	if opts.Background && opts.Interval > 0 && lastSeq < uint64(res.Fed) {
		err := awaitSeq(ctx, eng, uint64(res.Fed), write)
		if err != nil && !errors.Is(err, errFrameFailed) {
			return res, err
		}
	}

	res.Failed = int(eng.Stats().Failures)

	return res, nil
}

// runFrame runs one cycle on the caller's goroutine.
func runFrame(ctx context.Context, eng *engine.Engine, write func(*engine.Output) error) error {
	err := eng.RunBlocking(ctx)

	var inferErr *engine.InferenceError
	if errors.As(err, &inferErr) {
		slog.Warn("frame failed", "seq", inferErr.Seq, "error", inferErr.Err)
		return errFrameFailed
	}
	if err != nil {
		return err
	}

	if out, ok := eng.Poll(); ok {
		return write(out)
	}

	return nil
}

// awaitSeq writes every output until the one for seq arrives, or reports
// errFrameFailed once the cycle for seq has failed.
func awaitSeq(ctx context.Context, eng *engine.Engine, seq uint64, write func(*engine.Output) error) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		if out, ok := eng.Poll(); ok {
			done := out.Seq >= seq
			if err := write(out); err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		var inferErr *engine.InferenceError
		if errors.As(eng.Stats().LastError, &inferErr) && inferErr.Seq >= seq {
			slog.Warn("frame failed", "seq", inferErr.Seq, "error", inferErr.Err)
			return errFrameFailed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pace waits one producer interval and writes whatever output is ready.
func pace(ctx context.Context, eng *engine.Engine, interval time.Duration, write func(*engine.Output) error) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if out, ok := eng.Poll(); ok {
		return write(out)
	}

	return nil
}

func outputPath(opts streamOptions, seq uint64) string {
	name := fmt.Sprintf("%06d.png", seq)
	if seq >= 1 && seq <= uint64(len(opts.Frames)) {
		base := filepath.Base(opts.Frames[seq-1])
		name = strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
	}

	return filepath.Join(opts.OutDir, name)
}
