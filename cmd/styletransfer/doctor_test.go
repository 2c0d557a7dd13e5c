package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/doctor"
	"github.com/example/go-style-transfer/internal/testutil"
)

func TestDoctorConfig_LocalModel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Paths.ModelLocation = dir
	cfg.Paths.StylePath = testutil.WriteImage(t, dir, "style.png", 10, 5, 1)

	dcfg := doctorConfig(cfg)

	if dcfg.CacheDir != "" {
		t.Errorf("local model should not check the cache dir, got %q", dcfg.CacheDir)
	}

	got, err := dcfg.ResolveModel(dir)
	if err != nil || got != filepath.Join(dir, "model.onnx") {
		t.Errorf("ResolveModel = %q, %v", got, err)
	}

	w, h, err := dcfg.ProbeImage(cfg.Paths.StylePath)
	if err != nil || w != 10 || h != 5 {
		t.Errorf("ProbeImage = %dx%d, %v", w, h, err)
	}
}

func TestDoctorConfig_RemoteModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.ModelLocation = "gs://bucket/model.onnx"
	cfg.Paths.CacheDir = t.TempDir()

	dcfg := doctorConfig(cfg)

	if dcfg.CacheDir != cfg.Paths.CacheDir {
		t.Errorf("CacheDir = %q", dcfg.CacheDir)
	}

	got, err := dcfg.ResolveModel(cfg.Paths.ModelLocation)
	if err != nil || !strings.Contains(got, "remote") {
		t.Errorf("ResolveModel = %q, %v", got, err)
	}
}

func TestDoctor_MissingModelFails(t *testing.T) {
	t.Setenv("STYLETRANSFER_ORT_LIB", "/nonexistent/libonnxruntime.so")

	stdout, stderr, err := execute(t,
		"--paths-model-location", filepath.Join(t.TempDir(), "absent.onnx"),
		"doctor",
	)
	if err == nil {
		t.Fatal("expected doctor to fail")
	}

	if !strings.Contains(stdout, doctor.FailMark+" onnx runtime") {
		t.Errorf("stdout should report the runtime failure:\n%s", stdout)
	}
	if !strings.Contains(stdout, "model verify: skipped (earlier checks failed)") {
		t.Errorf("verify should be skipped:\n%s", stdout)
	}
	if !strings.Contains(stderr, "FAIL: model location") {
		t.Errorf("stderr should list the model failure:\n%s", stderr)
	}
}
