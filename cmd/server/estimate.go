package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Brownie44l1/depthhive/internal/frames"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	estimateOrientation int
	estimateOutput      string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <image>",
	Short: "Estimate depth for a single image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runEstimate,
}

func init() {
	estimateCmd.Flags().IntVar(&estimateOrientation, "orientation", 0, "sensor orientation in degrees")
	estimateCmd.Flags().StringVarP(&estimateOutput, "output", "o", "", "output PNG (default <image>_depth.png)")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	s, err := load(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	rt, release, err := newRuntime(s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer release()

	settings, err := s.cfg.Engine()
	if err != nil {
		return err
	}
	engine, err := model.NewEngine(rt, os.DirFS(s.cfg.Model.Assets), settings, logging.Named(s.logger, "engine"))
	if err != nil {
		return err
	}
	defer engine.Close()

	img, err := frames.DecodeFile(args[0])
	if err != nil {
		return err
	}

	start := time.Now()
	depth, err := engine.Run(img, estimateOrientation)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := estimateOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_depth.png"
	}
	if err := frames.WritePNG(out, depth); err != nil {
		return err
	}
	s.logger.Info("Wrote depth map",
		zap.String(logging.FieldPath, out),
		zap.Stringer("settings", settings),
		zap.Int64(logging.FieldDurationMS, elapsed.Milliseconds()))
	return nil
}
