// Package config loads depthhive settings from defaults, an optional config
// file and DEPTHHIVE_* environment variables.
package config

import (
	"runtime"
	"strings"

	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Model  ModelConfig  `mapstructure:"model"`
	ONNX   ONNXConfig   `mapstructure:"onnx"`
	Server ServerConfig `mapstructure:"server"`
	Source SourceConfig `mapstructure:"source"`
	Sink   SinkConfig   `mapstructure:"sink"`
	Log    LogConfig    `mapstructure:"log"`
}

// ModelConfig selects the model, its placement and where assets live.
type ModelConfig struct {
	Variant string `mapstructure:"variant"` // float | quantized
	Device  string `mapstructure:"device"`  // cpu | accelerator | gpu
	Threads int    `mapstructure:"threads"`
	Runtime string `mapstructure:"runtime"` // tflite | onnx
	Assets  string `mapstructure:"assets"`  // directory holding the model files
}

type ONNXConfig struct {
	Library string `mapstructure:"library"` // path to libonnxruntime; empty uses the default
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig configures the directory frame source. An empty WatchDir
// disables it.
type SourceConfig struct {
	WatchDir    string `mapstructure:"watch_dir"`
	Orientation int    `mapstructure:"orientation"`
}

// SinkConfig configures where depth maps are written. Empty disables it.
type SinkConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

const (
	RuntimeTFLite = "tflite"
	RuntimeONNX   = "onnx"

	DefaultPort = 8080
)

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.variant", model.FloatMobileNet.String())
	v.SetDefault("model.device", model.CPU.String())
	v.SetDefault("model.threads", min(4, runtime.NumCPU()))
	v.SetDefault("model.runtime", RuntimeTFLite)
	v.SetDefault("model.assets", "models")
	v.SetDefault("onnx.library", "")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("source.watch_dir", "")
	v.SetDefault("source.orientation", 0)
	v.SetDefault("sink.output_dir", "")
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance with defaults and environment binding.
// If path is non-empty the file is read as well.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPTHHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. The model/device pairing is checked too,
// so an unsupported combination fails with model.ErrConfiguration.
func (c *Config) Validate() error {
	if _, err := c.Engine(); err != nil {
		return err
	}
	switch c.Model.Runtime {
	case RuntimeTFLite, RuntimeONNX:
	default:
		return errors.WithHint(
			errors.Newf("unknown runtime %q", c.Model.Runtime),
			"use tflite or onnx")
	}
	if c.Model.Assets == "" {
		return errors.New("model.assets must name a directory")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Engine converts the model section into an engine configuration.
func (c *Config) Engine() (model.Config, error) {
	variant, err := model.ParseVariant(c.Model.Variant)
	if err != nil {
		return model.Config{}, err
	}
	device, err := model.ParseDevice(c.Model.Device)
	if err != nil {
		return model.Config{}, err
	}
	mc := model.Config{Variant: variant, Device: device, NumThreads: c.Model.Threads}
	if err := mc.Validate(); err != nil {
		return model.Config{}, err
	}
	return mc, nil
}

// Watch calls fn with the reloaded configuration each time the config file
// changes. Files that fail to load are reported through onError and
// otherwise ignored.
func Watch(v *viper.Viper, fn func(*Config), onError func(error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}
