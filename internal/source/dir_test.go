package source

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	frames []controller.Frame
	busy   bool
}

func (r *recorder) Submit(frame controller.Frame, done func(controller.Result)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return controller.ErrBusy
	}
	r.frames = append(r.frames, frame)
	if done != nil {
		done(controller.Result{FrameID: frame.ID})
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	f, err := os.Create(tmp)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
	require.NoError(t, f.Close())
	require.NoError(t, os.Rename(tmp, path))
}

func TestDirWatcherSubmitsNewImages(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	var (
		mu      sync.Mutex
		results []controller.Result
	)
	w := NewDirWatcher(dir, 90, rec, func(r controller.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// give the watcher time to register the directory
	require.Eventually(t, func() bool {
		writePNG(t, filepath.Join(dir, "frame.png"), 6, 4)
		return rec.count() > 0
	}, 5*time.Second, 50*time.Millisecond)

	rec.mu.Lock()
	frame := rec.frames[0]
	rec.mu.Unlock()
	assert.Equal(t, 90, frame.Orientation)
	assert.Equal(t, image.Rect(0, 0, 6, 4), frame.Image.Bounds())
	assert.NotEmpty(t, frame.ID)

	mu.Lock()
	assert.NotEmpty(t, results)
	mu.Unlock()
}

func TestDirWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewDirWatcher(dir, 0, rec, nil, zaptest.NewLogger(t))

	w.offer(filepath.Join(dir, "notes.txt"))
	w.offer(filepath.Join(dir, ".hidden.png"))

	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("partial"), 0o644))
	w.offer(broken)

	assert.Equal(t, 0, rec.count())
}

func TestDirWatcherDropsWhenBusy(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{busy: true}
	w := NewDirWatcher(dir, 0, rec, nil, zaptest.NewLogger(t))

	path := filepath.Join(dir, "frame.png")
	writePNG(t, path, 2, 2)
	w.offer(path)
	assert.Equal(t, 0, rec.count())
}

func TestDirWatcherMissingDir(t *testing.T) {
	w := NewDirWatcher(filepath.Join(t.TempDir(), "nope"), 0, &recorder{}, nil, nil)
	assert.Error(t, w.Run(context.Background()))
}
