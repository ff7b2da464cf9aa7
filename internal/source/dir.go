// Package source feeds frames to the controller.
package source

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/frames"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Submitter accepts frames; *controller.Controller implements it.
type Submitter interface {
	Submit(frame controller.Frame, done func(controller.Result)) error
}

// DirWatcher turns image files created or rewritten in a directory into
// frames. Frames offered while the submitter is busy are dropped, like
// camera frames arriving during inference.
type DirWatcher struct {
	dir         string
	orientation int
	target      Submitter
	onResult    func(controller.Result)
	logger      *zap.Logger
}

func NewDirWatcher(dir string, orientation int, target Submitter, onResult func(controller.Result), logger *zap.Logger) *DirWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirWatcher{
		dir:         dir,
		orientation: orientation,
		target:      target,
		onResult:    onResult,
		logger:      logger,
	}
}

// Run watches until ctx is done.
func (w *DirWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", w.dir)
	}
	w.logger.Info("Watching for frames", zap.String(logging.FieldPath, w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.offer(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *DirWatcher) offer(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") || !frames.IsImage(path) {
		return
	}
	img, err := frames.DecodeFile(path)
	if err != nil {
		// usually a file still being written; its next write event retries
		w.logger.Debug("Skipping undecodable frame", zap.String(logging.FieldPath, path), zap.Error(err))
		return
	}

	frame := controller.NewFrame(img, w.orientation)
	err = w.target.Submit(frame, w.onResult)
	switch {
	case errors.Is(err, controller.ErrBusy):
		w.logger.Debug("Dropped frame, estimator busy", zap.String(logging.FieldPath, path))
	case err != nil:
		w.logger.Warn("Failed to submit frame", zap.String(logging.FieldPath, path), zap.Error(err))
	default:
		w.logger.Debug("Submitted frame",
			zap.String(logging.FieldPath, path),
			zap.String(logging.FieldFrameID, frame.ID))
	}
}
