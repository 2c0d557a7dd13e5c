package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/example/go-style-transfer/internal/testutil"
)

func writeFrames(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for i, name := range names {
		testutil.WriteImage(t, dir, name, 12, 8, uint8(40*(i+1)))
	}
	// Non-image files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	return dir
}

func streamArgs(frames, out string, extra ...string) []string {
	args := []string{
		"--paths-model-location", "fake.onnx",
		"--engine-width", "12", "--engine-height", "8",
	}
	args = append(args, extra...)
	return append(args, "stream", "--frames", frames, "--out", out)
}

func TestStream_WritesEveryFrame(t *testing.T) {
	for _, background := range []string{"false", "true"} {
		t.Run("background="+background, func(t *testing.T) {
			useModel(t, &echoModel{})

			frames := writeFrames(t, "b.png", "a.png", "c.bmp")
			out := filepath.Join(t.TempDir(), "out")

			stdout, _, err := execute(t, streamArgs(frames, out, "--engine-background="+background)...)
			if err != nil {
				t.Fatalf("stream: %v", err)
			}
			if !strings.Contains(stdout, "3 frames fed, 3 written, 0 failed") {
				t.Errorf("stdout = %q", stdout)
			}

			// Frames are fed in name order, so a.png carries the first value.
			for name, want := range map[string]uint8{"a.png": 40, "b.png": 80, "c.png": 120} {
				p, err := imageio.Load(filepath.Join(out, name))
				if err != nil {
					t.Fatalf("load %s: %v", name, err)
				}
				if p.Width != 12 || p.Height != 8 {
					t.Errorf("%s is %dx%d", name, p.Width, p.Height)
				}
				if v := p.Pix[0]; v < want-1 || v > want+1 {
					t.Errorf("%s pixel = %d, want ~%d", name, v, want)
				}
			}
		})
	}
}

func TestStream_PacedWritesLastFrame(t *testing.T) {
	useModel(t, &echoModel{})

	frames := writeFrames(t, "f1.png", "f2.png", "f3.png", "f4.png")
	out := filepath.Join(t.TempDir(), "out")

	args := append(streamArgs(frames, out, "--engine-background=true"), "--fps", "500")
	if _, _, err := execute(t, args...); err != nil {
		t.Fatalf("stream: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "f4.png")); err != nil {
		t.Fatalf("last frame not written: %v", err)
	}
}

func TestStream_FailuresAreCounted(t *testing.T) {
	for _, background := range []string{"false", "true"} {
		t.Run("background="+background, func(t *testing.T) {
			useModel(t, &echoModel{fail: true})

			frames := writeFrames(t, "a.png", "b.png")
			out := filepath.Join(t.TempDir(), "out")

			stdout, _, err := execute(t, streamArgs(frames, out, "--engine-background="+background)...)
			if err != nil {
				t.Fatalf("stream: %v", err)
			}
			if !strings.Contains(stdout, "2 frames fed, 0 written, 2 failed") {
				t.Errorf("stdout = %q", stdout)
			}
		})
	}
}

func TestStream_CyclesStyles(t *testing.T) {
	m := &echoModel{}
	useModel(t, m)

	dir := t.TempDir()
	black := testutil.WriteImage(t, dir, "black.png", 8, 8, 0)
	white := testutil.WriteImage(t, dir, "white.png", 8, 8, 255)

	frames := writeFrames(t, "1.png", "2.png", "3.png", "4.png", "5.png")
	out := filepath.Join(t.TempDir(), "out")

	args := append(streamArgs(frames, out, "--engine-background=false"),
		"--style", black, "--style", white, "--style-every", "2")
	if _, _, err := execute(t, args...); err != nil {
		t.Fatalf("stream: %v", err)
	}

	got := m.styleValues()
	want := []bool{false, false, true, true, false}
	if len(got) != len(want) {
		t.Fatalf("cycles = %d, want %d", len(got), len(want))
	}
	for i, white := range want {
		if (got[i] > 0.5) != white {
			t.Errorf("cycle %d style = %v, want white=%v", i, got[i], white)
		}
	}
}

func TestStream_Errors(t *testing.T) {
	useModel(t, &echoModel{})

	empty := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	if _, _, err := execute(t, streamArgs(empty, out)...); err == nil {
		t.Error("expected error for a directory without frames")
	}

	if _, _, err := execute(t, "--paths-model-location", "fake.onnx", "stream", "--frames", empty); err == nil {
		t.Error("expected error without --out")
	}

	frames := writeFrames(t, "a.png")
	if _, _, err := execute(t, append(streamArgs(frames, out), "--fps", "-1")...); err == nil {
		t.Error("expected error for negative --fps")
	}
}

func TestOutputPath(t *testing.T) {
	opts := streamOptions{Frames: []string{"in/a.jpg", "in/b.png"}, OutDir: "out"}

	tests := []struct {
		seq  uint64
		want string
	}{
		{1, filepath.Join("out", "a.png")},
		{2, filepath.Join("out", "b.png")},
		{3, filepath.Join("out", "000003.png")},
		{0, filepath.Join("out", "000000.png")},
	}

	for _, tt := range tests {
		if got := outputPath(opts, tt.seq); got != tt.want {
			t.Errorf("outputPath(%d) = %q, want %q", tt.seq, got, tt.want)
		}
	}
}
