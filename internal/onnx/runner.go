//go:build !windows

package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// ProbeSize is the square image edge used for the zero-filled tensors that
// Configure feeds through the graph.
const ProbeSize = 256

// ErrNotConfigured is returned by Infer before a successful Configure.
var ErrNotConfigured = errors.New("onnx: model slots not configured")

// RunnerConfig holds ORT library settings for creating a model.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Model wraps an ORT session for a style-transfer graph that takes a content
// and a style image and produces one stylized image.
type Model struct {
	path string

	mu      sync.Mutex
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session

	contentSlot string
	styleSlot   string
	outputSlot  string
}

// Open loads the ONNX graph at path.
func Open(path string, cfg RunnerConfig) (*Model, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime for %q: %w", path, err)
	}

	env, err := runtime.NewEnv("styletransfer", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env for %q: %w", path, err)
	}

	session, err := runtime.NewSession(env, path, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("ort session (%s): %w", path, err)
	}

	slog.Info("loaded ONNX model", "path", path)

	return &Model{
		path:    path,
		runtime: runtime,
		env:     env,
		session: session,
	}, nil
}

// Configure checks that the graph accepts content and style tensors under the
// given input names and produces output under outputSlot. It runs one probe
// inference with zero-filled images; any failure is a rejection and leaves the
// previously configured slots untouched.
func (m *Model) Configure(contentSlot, styleSlot, outputSlot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return errors.New("model is closed")
	}

	if contentSlot == styleSlot {
		return fmt.Errorf("content and style slot share name %q", contentSlot)
	}

	probe, err := NewZeroTensor([]int64{1, ProbeSize, ProbeSize, 3})
	if err != nil {
		return err
	}

	outputs, err := m.runLocked(context.Background(), map[string]*Tensor{
		contentSlot: probe,
		styleSlot:   probe,
	})
	if err != nil {
		return err
	}

	if _, ok := outputs[outputSlot]; !ok {
		return fmt.Errorf("graph has no output %q", outputSlot)
	}

	m.contentSlot = contentSlot
	m.styleSlot = styleSlot
	m.outputSlot = outputSlot

	return nil
}

// Infer runs the graph on the committed slots.
func (m *Model) Infer(ctx context.Context, content, style *Tensor) (*Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, errors.New("model is closed")
	}

	if m.outputSlot == "" {
		return nil, ErrNotConfigured
	}

	outputs, err := m.runLocked(ctx, map[string]*Tensor{
		m.contentSlot: content,
		m.styleSlot:   style,
	})
	if err != nil {
		return nil, err
	}

	out, ok := outputs[m.outputSlot]
	if !ok {
		return nil, fmt.Errorf("output %q missing from results", m.outputSlot)
	}

	return out, nil
}

func (m *Model) runLocked(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	ortInputs := make(map[string]*ort.Value, len(inputs))
	for name, t := range inputs {
		v, err := ort.NewTensorValue(m.runtime, t.data, t.shape)
		if err != nil {
			closeORTValues(ortInputs)
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		ortInputs[name] = v
	}

	defer closeORTValues(ortInputs)

	ortOutputs, err := m.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", m.path, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}

		results[name] = t
	}

	return results, nil
}

// Close releases all ORT resources. Safe to call multiple times.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Close()
		m.session = nil
	}

	if m.env != nil {
		m.env.Close()
		m.env = nil
	}

	if m.runtime != nil {
		err := m.runtime.Close()
		m.runtime = nil
		return err
	}

	return nil
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	if elemType != ort.ONNXTensorElementDataTypeFloat {
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}

	data, shape, err := ort.GetTensorData[float32](v)
	if err != nil {
		return nil, err
	}

	return NewTensor(data, shape)
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
