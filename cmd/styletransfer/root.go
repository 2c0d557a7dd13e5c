package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
	logCloser io.Closer
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "styletransfer",
		Short:         "Real-time neural style transfer on ONNX Runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded

			return setupLogger(loaded, cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if logCloser == nil {
				return nil
			}
			err := logCloser.Close()
			logCloser = nil
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newStylizeCmd())
	cmd.AddCommand(newStreamCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(cfg config.Config, w io.Writer) error {
	logger, closer, err := logging.New(cfg.LogLevel, cfg.Log, w)
	if err != nil {
		return err
	}

	if logCloser != nil {
		_ = logCloser.Close()
	}
	logCloser = closer
	slog.SetDefault(logger)

	return nil
}

func requireConfig() (config.Config, error) {
	if activeCfg.Engine.Width == 0 || activeCfg.Paths.ModelLocation == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}
