package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/model"
	"github.com/spf13/cobra"
)

// tokenEnv holds a bearer token for http(s) model locations.
const tokenEnv = "STYLETRANSFER_MODEL_TOKEN"

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model acquisition and verification commands",
	}

	cmd.AddCommand(newModelFetchCmd())
	cmd.AddCommand(newModelVerifyCmd())
	return cmd
}

// newStore returns the model store for cfg. A non-empty token authenticates
// http(s) downloads.
func newStore(cfg config.Config, token string, progress io.Writer) *model.Store {
	store := model.NewStore(cfg.Paths.CacheDir)
	store.Stdout = progress
	store.Logger = slog.Default()

	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if token != "" {
		f := &model.HTTPFetcher{Token: token}
		store.Fetchers["http"] = f
		store.Fetchers["https"] = f
	}

	return store
}

func newModelFetchCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "fetch [location]",
		Short: "Resolve a model location, downloading remote models into the cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			location := cfg.Paths.ModelLocation
			if len(args) == 1 {
				location = args[0]
			}

			path, err := newStore(cfg, token, cmd.ErrOrStderr()).Resolve(cmd.Context(), location)
			if err != nil {
				return fmt.Errorf("model fetch failed: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token for http(s) locations (falls back to "+tokenEnv+")")

	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Load the configured model and walk the binding table against it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return verifyModel(cmd, cfg, cmd.OutOrStdout())
		},
	}

	return cmd
}

// verifyModel runs model.Verify for cfg, writing PASS to stdout and
// REJECT/FAIL lines to the command's stderr.
func verifyModel(cmd *cobra.Command, cfg config.Config, stdout io.Writer) error {
	_, err := model.Verify(cmd.Context(), model.VerifyOptions{
		Location: cfg.Paths.ModelLocation,
		Store:    newStore(cfg, "", cmd.ErrOrStderr()),
		Runtime:  cfg.Runtime,
		Inputs:   cfg.Binding.Inputs,
		Outputs:  cfg.Binding.Outputs,
		Stdout:   stdout,
		Stderr:   cmd.ErrOrStderr(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}

	return nil
}
