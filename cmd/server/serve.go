package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Brownie44l1/depthhive/internal/config"
	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/handlers"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/Brownie44l1/depthhive/internal/sink"
	"github.com/Brownie44l1/depthhive/internal/source"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and optional directory source",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := load(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()
	cfg, logger := s.cfg, s.logger

	rt, release, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	settings, err := cfg.Engine()
	if err != nil {
		return err
	}
	ctrl, err := controller.New(
		controller.EngineFactory(rt, os.DirFS(cfg.Model.Assets), logging.Named(logger, "engine")),
		settings,
		logging.Named(logger, "controller"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ctrl.Run(ctx) })

	if cfg.Source.WatchDir != "" {
		var publish func(controller.Result)
		if cfg.Sink.OutputDir != "" {
			w, err := sink.NewPNGWriter(cfg.Sink.OutputDir, logging.Named(logger, "sink"))
			if err != nil {
				return err
			}
			publish = w.Publish
		}
		watcher := source.NewDirWatcher(cfg.Source.WatchDir, cfg.Source.Orientation, ctrl, publish, logging.Named(logger, "source"))
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if s.viper.ConfigFileUsed() != "" {
		config.Watch(s.viper, func(next *config.Config) {
			settings, err := next.Engine()
			if err == nil {
				err = ctrl.Reconfigure(settings)
			}
			if err != nil {
				logger.Warn("Ignoring config change", zap.Error(err))
				return
			}
			logger.Info("Applied config change", zap.Stringer("settings", settings))
		}, func(err error) {
			logger.Warn("Failed to reload config", zap.Error(err))
		})
	}

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	addr := net.JoinHostPort("", strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewHandler(ctrl, logging.Named(logger, "http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Server starting",
			zap.String(logging.FieldAddress, addr),
			zap.Stringer("settings", settings),
			zap.String(logging.FieldRuntime, rt.Name()))
		logger.Sugar().Infof("Upload test: curl -X POST -F \"image=@frame.jpg\" http://localhost:%d/depth/image -o depth.png", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
