// Package testutil provides shared skip helpers and fixtures for integration
// tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireModel(t)
//	    ...
//	}
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/example/go-style-transfer/internal/onnx"
)

// ModelEnv names the environment variable holding a local style-transfer model.
const ModelEnv = "STYLETRANSFER_TEST_MODEL"

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located through STYLETRANSFER_ORT_LIB, ORT_LIBRARY_PATH or the usual system
// locations.
func RequireONNXRuntime(tb testing.TB) onnx.RuntimeInfo {
	tb.Helper()

	info, err := onnx.DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		tb.Skipf("ONNX Runtime shared library not found (%v); set STYLETRANSFER_ORT_LIB or ORT_LIBRARY_PATH", err)
	}

	return info
}

// RequireModel returns the model path named by ModelEnv, skipping the test when
// it is unset or missing.
func RequireModel(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv(ModelEnv)
	if p == "" {
		tb.Skipf("set %s to an ONNX style-transfer model", ModelEnv)
		return ""
	}

	// #nosec G703 -- Integration tests intentionally accept explicit env-provided local model paths.
	if _, err := os.Stat(p); err != nil {
		tb.Skipf("style-transfer model not available at %s=%q: %v", ModelEnv, p, err)
		return ""
	}

	return p
}

// SolidPixels returns a width x height RGB image filled with v.
func SolidPixels(width, height int, v uint8) codec.Pixels {
	p := codec.NewPixels(width, height, 3)
	for i := range p.Pix {
		p.Pix[i] = v
	}
	return p
}

// WriteImage saves a solid width x height image under dir and returns its
// path. The encoding follows the file extension of name.
func WriteImage(tb testing.TB, dir, name string, width, height int, v uint8) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := imageio.Save(path, SolidPixels(width, height, v)); err != nil {
		tb.Fatalf("write fixture %s: %v", path, err)
	}

	return path
}

// DeclaredSizePNG returns a 1x1 PNG whose IHDR chunk is rewritten to declare
// width x height. Header readers see the declared size; a full decode fails.
func DeclaredSizePNG(tb testing.TB, width, height int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		tb.Fatalf("encode png: %v", err)
	}

	// signature(8) | length(4) "IHDR"(4) data(13) crc(4)
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[16:20], uint32(width))
	binary.BigEndian.PutUint32(b[20:24], uint32(height))
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))

	return b
}
