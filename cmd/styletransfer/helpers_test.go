package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/onnx"
)

// echoModel returns the content tensor and records the first style value of
// every cycle.
type echoModel struct {
	fail bool

	mu     sync.Mutex
	styles []float32
	closed bool
}

func (*echoModel) Configure(_, _, _ string) error { return nil }

func (m *echoModel) Infer(_ context.Context, content, style *onnx.Tensor) (*onnx.Tensor, error) {
	m.mu.Lock()
	m.styles = append(m.styles, style.At(0))
	m.mu.Unlock()

	if m.fail {
		return nil, errors.New("graph exploded")
	}
	return content, nil
}

func (m *echoModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *echoModel) styleValues() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.styles...)
}

// useModel makes every command open m instead of a real ONNX graph.
func useModel(t *testing.T, m engine.Capability) {
	t.Helper()

	orig := openModel
	openModel = func(config.Config, io.Writer) engine.Opener {
		return func(context.Context, string) (engine.Capability, error) { return m, nil }
	}
	t.Cleanup(func() { openModel = orig })
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	var stdout, stderr bytes.Buffer

	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()

	return stdout.String(), stderr.String(), err
}
