// Package controller schedules depth inference for a stream of frames on a
// single background worker.
//
// Admission is gated by a ready flag: a frame is accepted only when the
// previous frame's callback has returned. Frames offered while busy are
// rejected with ErrBusy and counted as dropped. Engine (re)creation runs on
// the same worker, so the old engine is always closed before the new one is
// built and no two engines hold a device at once.
package controller

import (
	"context"
	"image"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBusy: a frame is already in flight.
	ErrBusy = errors.New("previous frame still in flight")
	// ErrStopped: the worker is no longer running.
	ErrStopped = errors.New("controller stopped")
	// ErrNoEngine: no engine is loaded, so the frame was skipped.
	ErrNoEngine = errors.New("no depth estimator loaded")
)

// Estimator is the part of model.Engine the controller drives.
type Estimator interface {
	Run(img image.Image, orientation int) (*image.Gray, error)
	Close() error
	ImageSizeX() int
	ImageSizeY() int
}

// Factory builds an Estimator for a configuration.
type Factory func(model.Config) (Estimator, error)

// EngineFactory returns a Factory backed by model.NewEngine.
func EngineFactory(rt model.Runtime, assets fs.FS, logger *zap.Logger) Factory {
	return func(cfg model.Config) (Estimator, error) {
		e, err := model.NewEngine(rt, assets, cfg, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Frame is one camera image.
type Frame struct {
	ID          string
	Image       image.Image
	Orientation int
	Received    time.Time
}

// NewFrame stamps img with a fresh id and the current time.
func NewFrame(img image.Image, orientation int) Frame {
	return Frame{
		ID:          uuid.NewString(),
		Image:       img,
		Orientation: orientation,
		Received:    time.Now(),
	}
}

// Stats describes the most recent frame and running counters.
type Stats struct {
	FrameWidth         int           `json:"frame_width"`
	FrameHeight        int           `json:"frame_height"`
	CropSize           int           `json:"crop_size"`
	ModelWidth         int           `json:"model_width"`
	ModelHeight        int           `json:"model_height"`
	Orientation        int           `json:"orientation"`
	LastProcessingTime time.Duration `json:"-"`
	LastProcessingMs   int64         `json:"last_processing_ms"`
	Processed          uint64        `json:"processed"`
	Dropped            uint64        `json:"dropped"`
	Skipped            uint64        `json:"skipped"`
	Failed             uint64        `json:"failed"`
}

// Result is delivered to the Submit callback on the worker goroutine.
type Result struct {
	FrameID string
	// Depth is nil when the frame was skipped or failed.
	Depth *image.Gray
	Stats Stats
	Err   error
}

// Status reports the active configuration and whether an engine is loaded.
type Status struct {
	Settings  model.Config `json:"settings"`
	Started   bool         `json:"started"`
	Loaded    bool         `json:"loaded"`
	LoadError string       `json:"load_error,omitempty"`
}

// task is a unit of worker work. drop, if set, answers the task's caller
// when the worker stops before running it.
type task struct {
	run  func()
	drop func()
}

// Controller owns the single engine and the worker that drives it.
type Controller struct {
	logger  *zap.Logger
	factory Factory
	tasks   chan task
	stopped chan struct{}
	ready   atomic.Bool

	// sendMu orders sends on tasks against the final drain in Run.
	sendMu sync.Mutex

	// engine is only touched on the worker goroutine.
	engine Estimator

	mu       sync.Mutex
	settings model.Config
	started  bool
	loaded   bool
	loadErr  error
	stats    Stats
}

// New returns a controller for settings. The engine is not created until
// the first frame arrives.
func New(factory Factory, settings model.Config, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		logger:   logger,
		factory:  factory,
		tasks:    make(chan task, 8),
		stopped:  make(chan struct{}),
		settings: settings,
	}
	c.ready.Store(true)
	return c, nil
}

// Run executes queued work until ctx is done, then answers every frame
// still queued with ErrStopped and closes the engine.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		close(c.stopped)
		c.drain()
		c.closeEngine()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-c.tasks:
			t.run()
		}
	}
}

// drain runs after stopped is closed. Holding sendMu waits out any
// in-progress enqueue; later ones see stopped and never send.
func (c *Controller) drain() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		select {
		case t := <-c.tasks:
			if t.drop != nil {
				t.drop()
			}
		default:
			return
		}
	}
}

func (c *Controller) enqueue(t task) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.tasks <- t:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// Ready reports whether Submit would accept a frame.
func (c *Controller) Ready() bool {
	return c.ready.Load()
}

// Submit queues frame for inference. done, if non-nil, is called on the
// worker with the result; the controller becomes ready again after done
// returns. Returns ErrBusy when a frame is already in flight.
func (c *Controller) Submit(frame Frame, done func(Result)) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	if !c.ready.CompareAndSwap(true, false) {
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		return ErrBusy
	}
	err := c.enqueue(task{
		run: func() { c.process(frame, done) },
		drop: func() {
			defer c.ready.Store(true)
			if done != nil {
				done(Result{FrameID: frame.ID, Err: ErrStopped})
			}
		},
	})
	if err != nil {
		c.ready.Store(true)
	}
	return err
}

// Process submits frame and waits for its result or ctx. The forward pass
// itself is not interrupted when ctx ends.
func (c *Controller) Process(ctx context.Context, frame Frame) (Result, error) {
	results := make(chan Result, 1)
	if err := c.Submit(frame, func(r Result) { results <- r }); err != nil {
		return Result{}, err
	}
	select {
	case r := <-results:
		return r, nil
	case <-c.stopped:
		// a frame queued before the stop is answered by the drain
		select {
		case r := <-results:
			return r, nil
		default:
			return Result{FrameID: frame.ID, Err: ErrStopped}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Reconfigure switches to settings. Unsupported combinations are rejected
// with model.ErrConfiguration and leave the current engine untouched.
// Before the first frame the settings are only recorded; afterwards the
// engine is rebuilt on the worker.
func (c *Controller) Reconfigure(settings model.Config) error {
	if err := settings.Validate(); err != nil {
		c.logger.Warn("Not creating depth estimator", zap.Stringer("settings", settings), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.settings = settings
	started := c.started
	c.mu.Unlock()

	if !started {
		c.logger.Debug("Deferring depth estimator creation until the first frame", zap.Stringer("settings", settings))
		return nil
	}
	return c.enqueue(task{run: func() { c.recreate(settings) }})
}

// Settings returns the most recently accepted configuration.
func (c *Controller) Settings() model.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Stats returns a snapshot of the counters and last frame info.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{Settings: c.settings, Started: c.started, Loaded: c.loaded}
	if c.loadErr != nil {
		s.LoadError = c.loadErr.Error()
	}
	return s
}

func (c *Controller) process(frame Frame, done func(Result)) {
	defer c.ready.Store(true)

	c.mu.Lock()
	first := !c.started
	c.started = true
	settings := c.settings
	c.mu.Unlock()
	if first {
		c.recreate(settings)
	}

	logger := c.logger.With(zap.String(logging.FieldFrameID, frame.ID))
	res := Result{FrameID: frame.ID}

	if c.engine == nil {
		c.mu.Lock()
		c.stats.Skipped++
		res.Stats = c.stats
		c.mu.Unlock()
		res.Err = ErrNoEngine
		logger.Debug("Skipping frame, no depth estimator loaded")
		if done != nil {
			done(res)
		}
		return
	}

	start := time.Now()
	depth, err := c.engine.Run(frame.Image, frame.Orientation)
	elapsed := time.Since(start)

	b := frame.Image.Bounds()
	c.mu.Lock()
	c.stats.FrameWidth, c.stats.FrameHeight = b.Dx(), b.Dy()
	c.stats.CropSize = min(b.Dx(), b.Dy())
	c.stats.Orientation = frame.Orientation
	if err != nil {
		c.stats.Failed++
	} else {
		c.stats.Processed++
		c.stats.LastProcessingTime = elapsed
		c.stats.LastProcessingMs = elapsed.Milliseconds()
	}
	res.Stats = c.stats
	c.mu.Unlock()

	if err != nil {
		logger.Error("Depth estimation failed", zap.Error(err))
		res.Err = err
	} else {
		res.Depth = depth
		logger.Debug("Processed frame",
			zap.Int64(logging.FieldDurationMS, elapsed.Milliseconds()),
			zap.Int(logging.FieldOrientation, frame.Orientation))
	}
	if done != nil {
		done(res)
	}
}

// recreate runs on the worker: close the old engine, then build the new one.
func (c *Controller) recreate(settings model.Config) {
	c.closeEngine()

	c.logger.Debug("Creating depth estimator",
		zap.Stringer(logging.FieldModel, settings.Variant),
		zap.Stringer(logging.FieldDevice, settings.Device),
		zap.Int(logging.FieldThreads, settings.NumThreads))
	e, err := c.factory(settings)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.loaded = false
		c.loadErr = err
		c.logger.Error("Failed to create depth estimator", zap.Error(err))
		return
	}
	c.engine = e
	c.loaded = true
	c.loadErr = nil
	c.stats.ModelWidth, c.stats.ModelHeight = e.ImageSizeX(), e.ImageSizeY()
}

func (c *Controller) closeEngine() {
	if c.engine == nil {
		return
	}
	c.logger.Debug("Closing depth estimator")
	if err := c.engine.Close(); err != nil {
		c.logger.Warn("Failed to close depth estimator", zap.Error(err))
	}
	c.engine = nil
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
