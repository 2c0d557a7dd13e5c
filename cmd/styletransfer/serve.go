package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/example/go-style-transfer/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the style-transfer HTTP server",
		Long: "Frames posted to /frame are stylized by the background worker; the latest\n" +
			"result is served once from /output.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg, cfg.Engine.Width, cfg.Engine.Height, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if err := eng.StartWorker(context.WithoutCancel(ctx)); err != nil {
				return err
			}

			return server.New(cfg.Server, eng, nil).Start(ctx)
		},
	}

	return cmd
}
