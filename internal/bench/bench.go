// Package bench provides benchmarking primitives for the styletransfer bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/engine"
)

// Runner is the subset of *engine.Engine driven by Run.
type Runner interface {
	SetInput(p codec.Pixels) error
	RunBlocking(ctx context.Context) error
	Poll() (*engine.Output, bool)
	Recycle(out *engine.Output)
}

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing for a single inference cycle.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run (cold-start)
	Duration time.Duration
	Width    int
	Height   int
}

// FPS returns the frames per second this run would sustain.
func (r RunResult) FPS() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(time.Second) / float64(r.Duration)
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P50  time.Duration
}

// MeanFPS is the throughput implied by the mean duration.
func (s Stats) MeanFPS() float64 {
	if s.Mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Mean)
}

// ComputeStats calculates min, max, mean and median over a slice of durations.
// An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return Stats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  sorted[len(sorted)/2],
	}
}

// Durations extracts the warm run durations. When every run is cold the cold
// runs are returned instead.
func Durations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, 0, len(runs))
	for _, r := range runs {
		if !r.Cold {
			out = append(out, r.Duration)
		}
	}
	if len(out) == 0 {
		for _, r := range runs {
			out = append(out, r.Duration)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// Run stages frame and runs a blocking cycle runs times. The first run is
// marked cold. Each output is recycled after its duration is recorded.
func Run(ctx context.Context, r Runner, frame codec.Pixels, runs int) ([]RunResult, error) {
	if runs <= 0 {
		return nil, fmt.Errorf("runs must be positive, got %d", runs)
	}

	results := make([]RunResult, 0, runs)
	for i := range runs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if err := r.SetInput(frame); err != nil {
			return results, fmt.Errorf("run %d: stage input: %w", i+1, err)
		}

		if err := r.RunBlocking(ctx); err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}

		out, ok := r.Poll()
		if !ok {
			return results, fmt.Errorf("run %d: no output published", i+1)
		}

		results = append(results, RunResult{
			Index:    i,
			Cold:     i == 0,
			Duration: out.Duration,
			Width:    out.Pixels.Width,
			Height:   out.Pixels.Height,
		})
		r.Recycle(out)
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// FPS threshold gate
// ---------------------------------------------------------------------------

// CheckFPSThreshold returns an error if meanFPS < threshold.
// A threshold of 0 disables the gate.
func CheckFPSThreshold(meanFPS, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanFPS < threshold {
		return fmt.Errorf("mean FPS %.2f below threshold %.2f", meanFPS, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 1, 64)
}

// FormatTable writes a human-readable table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Run", "Cold", "Size", "MS", "FPS"})

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		tw.AppendRow(table.Row{
			r.Index + 1,
			cold,
			fmt.Sprintf("%dx%d", r.Width, r.Height),
			ms(r.Duration),
			strconv.FormatFloat(r.FPS(), 'f', 2, 64),
		})
	}

	tw.AppendFooter(table.Row{"", "", "min", ms(stats.Min), ""})
	tw.AppendFooter(table.Row{"", "", "p50", ms(stats.P50), ""})
	tw.AppendFooter(table.Row{"", "", "mean", ms(stats.Mean), strconv.FormatFloat(stats.MeanFPS(), 'f', 2, 64)})
	tw.AppendFooter(table.Row{"", "", "max", ms(stats.Max), ""})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})

	tw.Render()
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	DurationMS float64 `json:"duration_ms"`
	FPS        float64 `json:"fps"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	P50MS   float64 `json:"p50_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanFPS float64 `json:"mean_fps"`
}

func msFloat(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   msFloat(stats.Min),
			P50MS:   msFloat(stats.P50),
			MeanMS:  msFloat(stats.Mean),
			MaxMS:   msFloat(stats.Max),
			MeanFPS: stats.MeanFPS(),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			Width:      r.Width,
			Height:     r.Height,
			DurationMS: msFloat(r.Duration),
			FPS:        r.FPS(),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
