// Package sink stores depth maps produced by the controller.
package sink

import (
	"os"
	"path/filepath"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/frames"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PNGWriter writes every successful result to <dir>/<frame id>.png.
type PNGWriter struct {
	dir    string
	logger *zap.Logger
}

func NewPNGWriter(dir string, logger *zap.Logger) (*PNGWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	return &PNGWriter{dir: dir, logger: logger}, nil
}

// Publish is shaped to be passed as a controller.Submit callback.
func (p *PNGWriter) Publish(res controller.Result) {
	if res.Err != nil || res.Depth == nil {
		return
	}
	path := filepath.Join(p.dir, res.FrameID+".png")
	if err := frames.WritePNG(path, res.Depth); err != nil {
		p.logger.Warn("Failed to write depth map", zap.String(logging.FieldPath, path), zap.Error(err))
		return
	}
	p.logger.Info("Wrote depth map",
		zap.String(logging.FieldPath, path),
		zap.Int64(logging.FieldDurationMS, res.Stats.LastProcessingMs))
}
