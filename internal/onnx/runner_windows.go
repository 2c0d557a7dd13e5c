//go:build windows

package onnx

import (
	"context"
	"errors"
	"fmt"
)

const ProbeSize = 256

var ErrNotConfigured = errors.New("onnx: model slots not configured")

// RunnerConfig holds ORT library settings for creating a model.
// In windows builds, native ORT support is currently unavailable.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Model is unavailable in windows builds.
type Model struct {
	path string
}

// Open always returns an error in windows builds.
func Open(path string, _ RunnerConfig) (*Model, error) {
	return nil, fmt.Errorf("native onnx runtime is unavailable on windows for model %q", path)
}

// Configure always returns an error in windows builds.
func (m *Model) Configure(_, _, _ string) error {
	return fmt.Errorf("native onnx runtime is unavailable on windows for model %q", m.path)
}

// Infer always returns an error in windows builds.
func (m *Model) Infer(_ context.Context, _, _ *Tensor) (*Tensor, error) {
	return nil, fmt.Errorf("native onnx runtime is unavailable on windows for model %q", m.path)
}

// Close is a no-op in windows builds.
func (m *Model) Close() error { return nil }
