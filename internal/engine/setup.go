package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/example/go-style-transfer/internal/binding"
	"github.com/example/go-style-transfer/internal/geometry"
)

// Opener turns an opaque model location into a capability.
type Opener func(ctx context.Context, location string) (Capability, error)

type SetupConfig struct {
	Width         int
	Height        int
	ModelLocation string
	Inputs        [][]string
	Outputs       []string
	OnReject      func(binding.Attempt)
	Logger        *slog.Logger
}

// Setup opens the model at cfg.ModelLocation and builds an engine around it.
// Every failure is a *SetupError; the model is closed if binding fails.
func Setup(ctx context.Context, cfg SetupConfig, open Opener) (*Engine, error) {
	if !(geometry.Size{Width: cfg.Width, Height: cfg.Height}).Valid() {
		return nil, &SetupError{Stage: StageSize, Err: geometry.ErrInvalidSize}
	}

	if cfg.ModelLocation == "" {
		return nil, &SetupError{Stage: StageModel, Err: errors.New("model location is empty")}
	}

	model, err := open(ctx, cfg.ModelLocation)
	if err != nil {
		return nil, &SetupError{Stage: StageModel, Err: err}
	}

	e, err := New(model, Options{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Inputs:   cfg.Inputs,
		Outputs:  cfg.Outputs,
		OnReject: cfg.OnReject,
		Logger:   cfg.Logger,
	})
	if err != nil {
		if c, ok := model.(io.Closer); ok {
			_ = c.Close()
		}

		return nil, err
	}

	return e, nil
}
