package sink

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/frames"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNGWriterPublish(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewPNGWriter(dir, nil)
	require.NoError(t, err)

	depth := image.NewGray(image.Rect(0, 0, 3, 3))
	depth.Pix[4] = 200
	w.Publish(controller.Result{FrameID: "abc", Depth: depth})

	img, err := frames.DecodeFile(filepath.Join(dir, "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, depth.Bounds(), img.Bounds())

	w.Publish(controller.Result{FrameID: "skipped", Err: errors.New("no engine")})
	_, err = os.Stat(filepath.Join(dir, "skipped.png"))
	assert.True(t, os.IsNotExist(err))
}
