package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Log      LogConfig     `mapstructure:"log"`
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Engine   EngineConfig  `mapstructure:"engine"`
	Binding  BindingConfig `mapstructure:"binding"`
	Server   ServerConfig  `mapstructure:"server"`
}

type LogConfig struct {
	// Format is "json", "text" or "auto" (text on a terminal, json otherwise).
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type PathsConfig struct {
	// ModelLocation is a .onnx file, a directory holding model.onnx, or a
	// gs://bucket/object URI.
	ModelLocation string `mapstructure:"model_location"`
	StylePath     string `mapstructure:"style_path"`
	CacheDir      string `mapstructure:"cache_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
}

type EngineConfig struct {
	Width      int  `mapstructure:"width"`
	Height     int  `mapstructure:"height"`
	Background bool `mapstructure:"background"`
}

// BindingConfig lists candidate slot names in priority order. Each input
// entry is a [content, style] pair.
type BindingConfig struct {
	Inputs  [][]string `mapstructure:"inputs"`
	Outputs []string   `mapstructure:"outputs"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// DefaultInputs is the built-in content/style slot name table. Model export
// tools disagree on naming, so the common variants are tried in this order.
var DefaultInputs = [][]string{
	{"serving_default_placeholder", "serving_default_placeholder_1"},
	{"serving_default_placeholder_1", "serving_default_placeholder"},
	{"placeholder", "placeholder_1"},
	{"placeholder_1", "placeholder"},
	{"serving_default_input_1", "serving_default_input_2"},
	{"serving_default_content_image", "serving_default_style_image"},
	{"input_1", "input_2"},
	{"content_image", "style_image"},
	{"content", "style"},
}

// DefaultOutputs is the built-in output slot name table.
var DefaultOutputs = []string{
	"StatefulPartitionedCall",
	"output_0",
	"serving_default_output",
	"output",
	"stylized_image",
}

func DefaultConfig() Config {
	inputs := make([][]string, 0, len(DefaultInputs))
	for _, pair := range DefaultInputs {
		inputs = append(inputs, append([]string(nil), pair...))
	}

	return Config{
		LogLevel: "info",
		Log: LogConfig{
			Format:     "auto",
			File:       "",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Paths: PathsConfig{
			ModelLocation: "model",
			StylePath:     "",
			CacheDir:      ".cache/styletransfer",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			APIVersion:     23,
		},
		Engine: EngineConfig{
			Width:      640,
			Height:     480,
			Background: true,
		},
		Binding: BindingConfig{
			Inputs:  inputs,
			Outputs: append([]string(nil), DefaultOutputs...),
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 30,
			MaxUploadBytes:  16 << 20,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-format", defaults.Log.Format, "Log format (auto|json|text)")
	fs.String("log-file", defaults.Log.File, "Optional rotating log file")
	fs.String("paths-model-location", defaults.Paths.ModelLocation, "Model location (.onnx file, directory or gs:// URI)")
	fs.String("paths-style-path", defaults.Paths.StylePath, "Style reference image")
	fs.String("paths-cache-dir", defaults.Paths.CacheDir, "Cache directory for downloaded models")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version")
	fs.Int("engine-width", defaults.Engine.Width, "Logical output width")
	fs.Int("engine-height", defaults.Engine.Height, "Logical output height")
	fs.Bool("engine-background", defaults.Engine.Background, "Run inference on a background worker")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int64("server-max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum accepted image upload size")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("STYLETRANSFER")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "STYLETRANSFER_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("styletransfer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot start with.
func (c Config) Validate() error {
	if c.Engine.Width < 1 || c.Engine.Height < 1 {
		return fmt.Errorf("engine size must be positive, got %dx%d", c.Engine.Width, c.Engine.Height)
	}

	for i, pair := range c.Binding.Inputs {
		if len(pair) != 2 {
			return fmt.Errorf("binding.inputs[%d] must be a [content, style] pair, got %d names", i, len(pair))
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
	v.SetDefault("log.max_age_days", c.Log.MaxAgeDays)
	v.SetDefault("log.compress", c.Log.Compress)
	v.SetDefault("paths.model_location", c.Paths.ModelLocation)
	v.SetDefault("paths.style_path", c.Paths.StylePath)
	v.SetDefault("paths.cache_dir", c.Paths.CacheDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("engine.width", c.Engine.Width)
	v.SetDefault("engine.height", c.Engine.Height)
	v.SetDefault("engine.background", c.Engine.Background)
	v.SetDefault("binding.inputs", c.Binding.Inputs)
	v.SetDefault("binding.outputs", c.Binding.Outputs)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("log.format", "log-format")
	v.RegisterAlias("log.file", "log-file")
	v.RegisterAlias("paths.model_location", "paths-model-location")
	v.RegisterAlias("paths.style_path", "paths-style-path")
	v.RegisterAlias("paths.cache_dir", "paths-cache-dir")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("runtime.api_version", "runtime-api-version")
	v.RegisterAlias("engine.width", "engine-width")
	v.RegisterAlias("engine.height", "engine-height")
	v.RegisterAlias("engine.background", "engine-background")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.shutdown_timeout", "server-shutdown-timeout")
	v.RegisterAlias("server.max_upload_bytes", "server-max-upload-bytes")
}
