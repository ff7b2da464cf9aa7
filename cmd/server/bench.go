package main

import (
	"context"
	"image"
	"os"
	"time"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	benchFrames      int
	benchOrientation int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Push synthetic 640x480 frames through the controller and report timings",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchFrames, "frames", "n", 20, "number of frames")
	benchCmd.Flags().IntVar(&benchOrientation, "orientation", 90, "sensor orientation in degrees")
}

func runBench(cmd *cobra.Command, args []string) error {
	s, err := load(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()
	logger := s.logger

	rt, release, err := newRuntime(s.cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	settings, err := s.cfg.Engine()
	if err != nil {
		return err
	}
	ctrl, err := controller.New(
		controller.EngineFactory(rt, os.DirFS(s.cfg.Model.Assets), logging.Named(logger, "engine")),
		settings,
		logging.Named(logger, "controller"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	var total, worst time.Duration
	var processed int
	for i := 0; i < benchFrames; i++ {
		res, err := ctrl.Process(gctx, controller.NewFrame(frame, benchOrientation))
		if err == nil {
			err = res.Err
		}
		if err != nil {
			cancel()
			g.Wait()
			return errors.Wrapf(err, "frame %d", i)
		}
		d := res.Stats.LastProcessingTime
		total += d
		worst = max(worst, d)
		processed++
	}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}

	stats := ctrl.Stats()
	logger.Info("Benchmark finished",
		zap.Stringer("settings", settings),
		zap.String(logging.FieldRuntime, rt.Name()),
		zap.Int("frames", processed),
		zap.Duration("mean", total/time.Duration(max(processed, 1))),
		zap.Duration("worst", worst),
		zap.Int("model_width", stats.ModelWidth),
		zap.Int("model_height", stats.ModelHeight))
	return nil
}
