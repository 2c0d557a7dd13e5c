// Package doctor provides environment preflight checks for styletransfer.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// RuntimeFunc returns the ONNX Runtime library path and version, or an error
// if the library cannot be found.
type RuntimeFunc func() (path, version string, err error)

// ResolveFunc maps a model location to a local file.
type ResolveFunc func(location string) (string, error)

// ImageFunc reports the dimensions of an image file.
type ImageFunc func(path string) (width, height int, err error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Runtime locates the ORT shared library.
	Runtime RuntimeFunc
	// APIVersion is the ORT C API version the runner requests. The library's
	// minor version must be at least this.
	APIVersion uint32

	ModelLocation string
	ResolveModel  ResolveFunc

	StyleFiles []string
	ProbeImage ImageFunc

	// CacheDir must be creatable and writable when remote models are used.
	CacheDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.Runtime == nil {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		path, ver, err := cfg.Runtime()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		case ver == "" || ver == "unknown":
			fmt.Fprintf(w, "%s onnx runtime: %s (version unknown)\n", PassMark, path)
		default:
			if verErr := checkRuntimeVersion(ver, cfg.APIVersion); verErr != nil {
				res.fail(fmt.Sprintf("onnx runtime version: %v", verErr))
				fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, path, ver)
			}
		}
	}

	// ---- model location ---------------------------------------------------
	switch {
	case cfg.ModelLocation == "":
		res.fail("model location: not configured")
		fmt.Fprintf(w, "%s model location: not configured\n", FailMark)
	case cfg.ResolveModel == nil:
		fmt.Fprintf(w, "%s model location: %s (not resolved)\n", PassMark, cfg.ModelLocation)
	default:
		path, err := cfg.ResolveModel(cfg.ModelLocation)
		if err != nil {
			res.fail(fmt.Sprintf("model location %q: %v", cfg.ModelLocation, err))
			fmt.Fprintf(w, "%s model location %s: %v\n", FailMark, cfg.ModelLocation, err)
		} else {
			fmt.Fprintf(w, "%s model: %s\n", PassMark, path)
		}
	}

	// ---- cache dir --------------------------------------------------------
	if cfg.CacheDir != "" {
		if err := checkWritableDir(cfg.CacheDir); err != nil {
			res.fail(fmt.Sprintf("cache dir %q: %v", cfg.CacheDir, err))
			fmt.Fprintf(w, "%s cache dir %s: %v\n", FailMark, cfg.CacheDir, err)
		} else {
			fmt.Fprintf(w, "%s cache dir: %s\n", PassMark, cfg.CacheDir)
		}
	}

	// ---- style files ------------------------------------------------------
	for _, path := range cfg.StyleFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("style file %q: %v", path, err))
			fmt.Fprintf(w, "%s style file %s: not found\n", FailMark, path)
			continue
		}

		if cfg.ProbeImage == nil {
			fmt.Fprintf(w, "%s style file: %s\n", PassMark, path)
			continue
		}

		width, height, err := cfg.ProbeImage(path)
		if err != nil {
			res.fail(fmt.Sprintf("style file %q: %v", path, err))
			fmt.Fprintf(w, "%s style file %s: %v\n", FailMark, path, err)
		} else {
			fmt.Fprintf(w, "%s style file: %s (%dx%d)\n", PassMark, path, width, height)
		}
	}

	return res
}

// checkRuntimeVersion returns an error if ver is not a 1.x release whose
// minor version covers the requested C API version.
func checkRuntimeVersion(ver string, apiVersion uint32) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if apiVersion > 0 && minor < int(apiVersion) {
		return fmt.Errorf("API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()

	return os.Remove(filepath.Clean(name))
}
