package main

import (
	"fmt"
	"os"

	"github.com/Brownie44l1/depthhive/internal/config"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/Brownie44l1/depthhive/internal/runtime/onnx"
	"github.com/Brownie44l1/depthhive/internal/runtime/tflite"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "depthhive",
	Short: "Monocular depth estimation service",
	Long: `depthhive runs a MobileNet depth model on camera frames.

Frames arrive over HTTP or from a watched directory; each is center-cropped,
rotated to the sensor orientation, resized to the model input and turned
into an 8-bit depth map.

Examples:
  depthhive serve --config depthhive.yaml
  depthhive estimate frame.jpg --device accelerator -o depth.png
  depthhive bench --frames 50`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("model", "", "model variant: float or quantized")
	rootCmd.PersistentFlags().String("device", "", "execution device: cpu, accelerator or gpu")
	rootCmd.PersistentFlags().Int("threads", 0, "interpreter threads")
	rootCmd.PersistentFlags().String("runtime", "", "inference runtime: tflite or onnx")
	rootCmd.PersistentFlags().String("assets", "", "directory holding the model files")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for key, flag := range map[string]string{
		"model.variant": "model",
		"model.device":  "device",
		"model.threads": "threads",
		"model.runtime": "runtime",
		"model.assets":  "assets",
		"log.level":     "log-level",
	} {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "failed to bind --%s", flag)
		}
	}
	return nil
}

type setup struct {
	viper  *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func load(cmd *cobra.Command) (*setup, error) {
	v, err := config.NewViper(configPath)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(cmd, v); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
	if err != nil {
		return nil, err
	}
	return &setup{viper: v, cfg: cfg, logger: logger}, nil
}

// newRuntime returns the configured runtime and a function releasing it.
func newRuntime(cfg *config.Config, logger *zap.Logger) (model.Runtime, func(), error) {
	logger = logging.Named(logger, "runtime")
	switch cfg.Model.Runtime {
	case config.RuntimeONNX:
		rt, err := onnx.New(cfg.ONNX.Library, logger)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() {
			if err := rt.Close(); err != nil {
				logger.Warn("Failed to release onnxruntime", zap.Error(err))
			}
		}, nil
	default:
		return tflite.New(logger), func() {}, nil
	}
}
