package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/doctor"
	"github.com/example/go-style-transfer/internal/imageio"
	"github.com/example/go-style-transfer/internal/model"
	"github.com/example/go-style-transfer/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return runDoctor(cmd, cfg, skipVerify)
		},
	}

	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Do not load the model and walk the binding table")

	return cmd
}

func doctorConfig(cfg config.Config) doctor.Config {
	dcfg := doctor.Config{
		Runtime: func() (string, string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			return info.LibraryPath, info.Version, err
		},
		APIVersion:    cfg.Runtime.APIVersion,
		ModelLocation: cfg.Paths.ModelLocation,
		ResolveModel: func(location string) (string, error) {
			if model.IsRemote(location) {
				return location + " (remote, fetched on first use)", nil
			}
			return model.ResolveLocal(location)
		},
		ProbeImage: func(path string) (int, int, error) {
			size, err := imageio.LoadConfig(path)
			return size.Width, size.Height, err
		},
	}

	if model.IsRemote(cfg.Paths.ModelLocation) {
		dcfg.CacheDir = cfg.Paths.CacheDir
	}
	if cfg.Paths.StylePath != "" {
		dcfg.StyleFiles = []string{cfg.Paths.StylePath}
	}

	return dcfg
}

func runDoctor(cmd *cobra.Command, cfg config.Config, skipVerify bool) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	result := doctor.Run(doctorConfig(cfg), stdout)

	// Binding walk as an additional check. It needs both the runtime and a
	// local model, so it is skipped when either already failed.
	switch {
	case skipVerify:
		_, _ = fmt.Fprintf(stdout, "%s model verify: skipped\n", doctor.PassMark)
	case result.Failed():
		_, _ = fmt.Fprintf(stdout, "%s model verify: skipped (earlier checks failed)\n", doctor.PassMark)
	case model.IsRemote(cfg.Paths.ModelLocation):
		_, _ = fmt.Fprintf(stdout, "%s model verify: skipped (remote location, run 'model verify')\n", doctor.PassMark)
	default:
		if err := verifyModel(cmd, cfg, io.Discard); err != nil {
			result.AddFailure(fmt.Sprintf("model verify: %v", err))
			_, _ = fmt.Fprintf(stdout, "%s model verify: %v\n", doctor.FailMark, err)
		} else {
			_, _ = fmt.Fprintf(stdout, "%s model verify: ok\n", doctor.PassMark)
		}
	}

	if result.Failed() {
		for _, f := range result.Failures() {
			// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}
