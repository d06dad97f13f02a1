package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sitewatch/internal/camera"
	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
)

// ErrInvalidArgument is returned for out-of-range control values.
var ErrInvalidArgument = errors.New("invalid argument")

// MinInterval is the shortest accepted capture interval.
const MinInterval = time.Second

// Detector finds objects in a frame. Failures yield no boxes.
type Detector interface {
	Detect(ctx context.Context, frame *camera.Frame) []detection.Box
}

// Sink persists a processed frame and raises alerts.
type Sink interface {
	Save(ctx context.Context, cam int, frame *camera.Frame, boxes []detection.Box, armed bool) error
}

// State is the operator-visible capture state.
type State struct {
	Capturing bool          `json:"capturing"`
	Armed     bool          `json:"armed"`
	Interval  time.Duration `json:"interval"`
}

// Status extends State with pipeline counters.
type Status struct {
	State
	Cameras   int                      `json:"cameras"`
	Queue     pipeline.DispatcherStats `json:"queue"`
	Cycles    uint64                   `json:"cycles"`
	Processed uint64                   `json:"processed"`
	LastCycle time.Time                `json:"last_cycle"`
}

// Config tunes the controller. Zero values take defaults.
type Config struct {
	Interval       time.Duration
	Armed          bool
	Tick           time.Duration
	QueueCapacity  int
	DequeueTimeout time.Duration
	FrameBufferCap int
	// OnChange is called after every state change, outside any lock.
	OnChange func(State)
}

func (c *Config) setDefaults() {
	if c.Interval < MinInterval {
		c.Interval = 300 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 500 * time.Millisecond
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = time.Second
	}
	if c.FrameBufferCap <= 0 {
		c.FrameBufferCap = 16
	}
}

// Controller owns the capture and detection workers.
type Controller struct {
	sources  []camera.Source
	detector Detector
	sink     Sink
	queue    *pipeline.Dispatcher

	tick           time.Duration
	dequeueTimeout time.Duration
	bufferCap      int
	onChange       func(State)

	// lifecycleMu serializes Start and Stop end to end, including the join.
	lifecycleMu sync.Mutex

	// mu guards state and the per-run fields below.
	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	cycles    atomic.Uint64
	processed atomic.Uint64
	lastCycle atomic.Int64
}

// New creates a stopped controller over the given cameras.
func New(sources []camera.Source, detector Detector, sink Sink, cfg Config) *Controller {
	cfg.setDefaults()
	return &Controller{
		sources:        sources,
		detector:       detector,
		sink:           sink,
		queue:          pipeline.NewDispatcher(cfg.QueueCapacity),
		tick:           cfg.Tick,
		dequeueTimeout: cfg.DequeueTimeout,
		bufferCap:      cfg.FrameBufferCap,
		onChange:       cfg.OnChange,
		state:          State{Armed: cfg.Armed, Interval: cfg.Interval},
	}
}

// Start launches the workers. It returns false if capture is already running.
func (c *Controller) Start() bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.state.Capturing {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	c.state.Capturing = true
	c.stopCh = stop
	c.cancel = cancel
	c.wg = wg
	state := c.state
	c.mu.Unlock()

	wg.Add(2)
	go c.detectionLoop(ctx, stop, wg)
	go c.captureLoop(ctx, stop, wg)

	log.Info().
		Int("cameras", len(c.sources)).
		Dur("interval", state.Interval).
		Bool("armed", state.Armed).
		Msg("capture started")
	c.notify(state)
	return true
}

// Stop signals the workers, waits for both to exit and discards queued
// frames. It returns false if capture was not running.
func (c *Controller) Stop() bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if !c.state.Capturing {
		c.mu.Unlock()
		return false
	}
	c.state.Capturing = false
	stop, cancel, wg := c.stopCh, c.cancel, c.wg
	c.stopCh, c.cancel, c.wg = nil, nil, nil
	state := c.state
	c.mu.Unlock()

	close(stop)
	cancel()
	wg.Wait()

	dropped := c.queue.Drain()
	log.Info().Int("discarded", dropped).Msg("capture stopped")
	c.notify(state)
	return true
}

// Arm enables alerting for subsequent detections.
func (c *Controller) Arm() { c.setArmed(true) }

// Disarm disables alerting for subsequent detections.
func (c *Controller) Disarm() { c.setArmed(false) }

func (c *Controller) setArmed(armed bool) {
	c.mu.Lock()
	c.state.Armed = armed
	state := c.state
	c.mu.Unlock()

	log.Info().Bool("armed", armed).Msg("alerting changed")
	c.notify(state)
}

// SetInterval changes the time between capture cycles. It takes effect on
// the next tick of a running capture loop.
func (c *Controller) SetInterval(d time.Duration) error {
	if d < MinInterval {
		return fmt.Errorf("%w: interval %s is below %s", ErrInvalidArgument, d, MinInterval)
	}

	c.mu.Lock()
	c.state.Interval = d
	state := c.state
	c.mu.Unlock()

	log.Info().Dur("interval", d).Msg("capture interval changed")
	c.notify(state)
	return nil
}

// State returns a snapshot of the capture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsCapturing reports whether the workers are running.
func (c *Controller) IsCapturing() bool {
	return c.State().Capturing
}

// Status returns the capture state with pipeline counters.
func (c *Controller) Status() Status {
	s := Status{
		State:     c.State(),
		Cameras:   len(c.sources),
		Queue:     c.queue.Stats(),
		Cycles:    c.cycles.Load(),
		Processed: c.processed.Load(),
	}
	if ns := c.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns)
	}
	return s
}

// Cameras returns the number of configured cameras.
func (c *Controller) Cameras() int { return len(c.sources) }

// CurrentFrames captures one fresh frame from every camera, bypassing the
// alignment pipeline. Cameras that fail are absent from the result.
func (c *Controller) CurrentFrames(ctx context.Context) map[int]*camera.Frame {
	frames := captureAll(ctx, c.sources)
	out := make(map[int]*camera.Frame, len(frames))
	for i, f := range frames {
		if f != nil {
			out[c.sources[i].Index()] = f
		}
	}
	return out
}

func (c *Controller) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Interval
}

func (c *Controller) armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Armed
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
