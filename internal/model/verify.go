package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/example/go-style-transfer/internal/binding"
	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/onnx"
)

type VerifyOptions struct {
	Location string
	Store    *Store
	Runtime  config.RuntimeConfig
	Inputs   [][]string
	Outputs  []string
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   *slog.Logger
}

type verifyTarget interface {
	binding.Configurer
	Close() error
}

var openForVerify = func(path string, cfg config.RuntimeConfig) (verifyTarget, error) {
	return onnx.OpenWithConfig(path, cfg)
}

// Verify resolves the model location, loads the graph and walks the binding
// table against it. It returns the binding that would be committed.
func Verify(ctx context.Context, opts VerifyOptions) (binding.Binding, error) {
	if opts.Location == "" {
		return binding.Binding{}, errors.New("model location is required")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	store := opts.Store
	if store == nil {
		store = &Store{}
	}

	path, err := store.Resolve(ctx, opts.Location)
	if err != nil {
		return binding.Binding{}, fmt.Errorf("resolve model: %w", err)
	}

	m, err := openForVerify(path, opts.Runtime)
	if err != nil {
		return binding.Binding{}, fmt.Errorf("load model %s: %w", path, err)
	}
	defer func() { _ = m.Close() }()

	r, err := binding.NewResolver(opts.Inputs, opts.Outputs)
	if err != nil {
		return binding.Binding{}, err
	}
	r.Logger = opts.Logger
	r.OnReject = func(a binding.Attempt) {
		_, _ = fmt.Fprintf(opts.Stderr, "REJECT %s: %v\n", a.Binding, a.Err)
	}

	b, err := r.Resolve(m)
	if err != nil {
		var nf *binding.NotFoundError
		if errors.As(err, &nf) {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v, tried:\n%s", path, binding.ErrBindingNotFound, indent(nf.Summary()))
		} else {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", path, err)
		}
		return binding.Binding{}, err
	}

	_, _ = fmt.Fprintf(opts.Stdout, "PASS %s (%s)\n", path, b)

	return b, nil
}

func indent(lines string) string {
	if lines == "" {
		return "  (no candidates)\n"
	}
	return "  " + strings.ReplaceAll(strings.TrimSuffix(lines, "\n"), "\n", "\n  ") + "\n"
}
