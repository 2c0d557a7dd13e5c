package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/example/go-style-transfer/internal/onnx"
)

// openModel returns an opener that resolves locations through the model
// store and loads them with the configured ONNX Runtime library. Download
// progress is written to progress.
var openModel = func(cfg config.Config, progress io.Writer) engine.Opener {
	store := newStore(cfg, "", progress)

	return func(ctx context.Context, location string) (engine.Capability, error) {
		path, err := store.Resolve(ctx, location)
		if err != nil {
			return nil, err
		}

		m, err := onnx.OpenWithConfig(path, cfg.Runtime)
		if err != nil {
			return nil, err
		}

		return m, nil
	}
}

// newEngine builds an engine of the given logical size from cfg and applies
// the configured style image, if any.
func newEngine(ctx context.Context, cfg config.Config, width, height int, progress io.Writer) (*engine.Engine, error) {
	eng, err := engine.Setup(ctx, engine.SetupConfig{
		Width:         width,
		Height:        height,
		ModelLocation: cfg.Paths.ModelLocation,
		Inputs:        cfg.Binding.Inputs,
		Outputs:       cfg.Binding.Outputs,
		Logger:        slog.Default(),
	}, openModel(cfg, progress))
	if err != nil {
		return nil, err
	}

	if cfg.Paths.StylePath != "" {
		if _, err := loadStyle(eng, cfg.Paths.StylePath); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}

	return eng, nil
}

type styleSetter interface {
	SetStyle(p codec.Pixels) error
}

func loadStyle(eng styleSetter, path string) (codec.Pixels, error) {
	p, err := imageio.Load(path)
	if err != nil {
		return codec.Pixels{}, fmt.Errorf("load style: %w", err)
	}

	if err := eng.SetStyle(p); err != nil {
		return codec.Pixels{}, err
	}

	slog.Debug("style loaded", "path", path, "width", p.Width, "height", p.Height)

	return p, nil
}
