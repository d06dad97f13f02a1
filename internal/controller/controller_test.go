package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/camera"
	"sitewatch/internal/camera/camtest"
	"sitewatch/internal/detection"
)

type fakeDetector struct {
	mu    sync.Mutex
	boxes []detection.Box
	delay time.Duration
	calls int
}

func (d *fakeDetector) Detect(ctx context.Context, frame *camera.Frame) []detection.Box {
	d.mu.Lock()
	d.calls++
	delay, boxes := d.delay, d.boxes
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return boxes
}

type saved struct {
	camera int
	boxes  int
	armed  bool
}

type fakeSink struct {
	mu    sync.Mutex
	saves []saved
}

func (s *fakeSink) Save(ctx context.Context, cam int, frame *camera.Frame, boxes []detection.Box, armed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, saved{camera: cam, boxes: len(boxes), armed: armed})
	return nil
}

func (s *fakeSink) snapshot() []saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saved(nil), s.saves...)
}

func testConfig() Config {
	return Config{
		Interval:       time.Second,
		Tick:           5 * time.Millisecond,
		DequeueTimeout: 10 * time.Millisecond,
		QueueCapacity:  10,
	}
}

func sources(n int) ([]camera.Source, []*camtest.Source) {
	var (
		out  []camera.Source
		fake []*camtest.Source
	)
	for i := 0; i < n; i++ {
		s := camtest.NewSource(i, 64, 48)
		out = append(out, s)
		fake = append(fake, s)
	}
	return out, fake
}

func TestStartStopTransitions(t *testing.T) {
	t.Parallel()

	srcs, _ := sources(1)
	c := New(srcs, &fakeDetector{}, &fakeSink{}, testConfig())

	assert.False(t, c.IsCapturing())
	assert.False(t, c.Stop(), "stop while stopped")

	assert.True(t, c.Start())
	assert.True(t, c.IsCapturing())
	assert.False(t, c.Start(), "start while running")

	assert.True(t, c.Stop())
	assert.False(t, c.IsCapturing())
	assert.False(t, c.Stop())

	assert.True(t, c.Start(), "restart after stop")
	assert.True(t, c.Stop())
}

func TestTwoCameraCycle(t *testing.T) {
	t.Parallel()

	srcs, fakes := sources(2)
	detector := &fakeDetector{boxes: []detection.Box{{X1: 1, Y1: 1, X2: 2, Y2: 2}}}
	sink := &fakeSink{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	c := New(srcs, detector, sink, cfg)

	require.True(t, c.Start())
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)

	// Interval has not elapsed, so no further cycles run.
	time.Sleep(50 * time.Millisecond)
	require.True(t, c.Stop())

	saves := sink.snapshot()
	require.Len(t, saves, 2)
	assert.ElementsMatch(t, []int{0, 1}, []int{saves[0].camera, saves[1].camera})
	for _, s := range saves {
		assert.Equal(t, 1, s.boxes)
		assert.False(t, s.armed)
	}
	for _, f := range fakes {
		opens, _, closes := f.Counts()
		assert.Equal(t, 1, opens)
		assert.Equal(t, 1, closes)
	}
	assert.Equal(t, uint64(1), c.Status().Cycles)
	assert.Equal(t, uint64(2), c.Status().Processed)
}

func TestIntervalGatesCycles(t *testing.T) {
	t.Parallel()

	srcs, fakes := sources(1)
	sink := &fakeSink{}
	c := New(srcs, &fakeDetector{}, sink, testConfig())

	require.True(t, c.Start())
	defer c.Stop()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	opens, _, _ := fakes[0].Counts()
	assert.Equal(t, 1, opens, "a second cycle must wait for the interval")

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestArmedFlagReachesSink(t *testing.T) {
	t.Parallel()

	srcs, _ := sources(1)
	sink := &fakeSink{}
	c := New(srcs, &fakeDetector{boxes: []detection.Box{{X2: 1, Y2: 1}}}, sink, testConfig())
	c.Arm()

	require.True(t, c.Start())
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, c.Stop())

	assert.True(t, sink.snapshot()[0].armed)

	c.Disarm()
	assert.False(t, c.State().Armed)
}

func TestSetIntervalValidation(t *testing.T) {
	t.Parallel()

	c := New(nil, &fakeDetector{}, &fakeSink{}, testConfig())

	assert.ErrorIs(t, c.SetInterval(0), ErrInvalidArgument)
	assert.ErrorIs(t, c.SetInterval(500*time.Millisecond), ErrInvalidArgument)
	assert.ErrorIs(t, c.SetInterval(-5*time.Second), ErrInvalidArgument)
	assert.Equal(t, time.Second, c.State().Interval)

	require.NoError(t, c.SetInterval(5*time.Second))
	assert.Equal(t, 5*time.Second, c.State().Interval)
}

func TestDefaultInterval(t *testing.T) {
	t.Parallel()

	c := New(nil, &fakeDetector{}, &fakeSink{}, Config{})
	assert.Equal(t, 300*time.Second, c.State().Interval)
}

func TestFailingCameraBlocksAlignment(t *testing.T) {
	t.Parallel()

	srcs, fakes := sources(2)
	fakes[1].Fail(1)
	sink := &fakeSink{}
	c := New(srcs, &fakeDetector{}, sink, testConfig())

	require.True(t, c.Start())
	defer c.Stop()

	// Cycle one has no frame from camera 1; cycle two completes the set.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.snapshot())

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestStopJoinsWorkers(t *testing.T) {
	t.Parallel()

	srcs, _ := sources(2)
	detector := &fakeDetector{delay: 100 * time.Millisecond}
	sink := &fakeSink{}
	c := New(srcs, detector, sink, testConfig())

	require.True(t, c.Start())
	require.Eventually(t, func() bool {
		detector.mu.Lock()
		defer detector.mu.Unlock()
		return detector.calls > 0
	}, time.Second, time.Millisecond)

	require.True(t, c.Stop())
	after := len(sink.snapshot())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, after, len(sink.snapshot()), "no saves after Stop returns")
	assert.Equal(t, 0, c.Status().Queue.Length, "queue is drained on stop")
}

func TestConcurrentStartStop(t *testing.T) {
	t.Parallel()

	srcs, _ := sources(1)
	c := New(srcs, &fakeDetector{}, &fakeSink{}, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.Start() }()
		go func() { defer wg.Done(); c.Stop() }()
	}
	wg.Wait()

	c.Stop()
	assert.False(t, c.IsCapturing())
	assert.True(t, c.Start())
	assert.True(t, c.Stop())
}

func TestOnChange(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []State
	)
	cfg := testConfig()
	cfg.OnChange = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	srcs, _ := sources(1)
	c := New(srcs, &fakeDetector{}, &fakeSink{}, cfg)

	c.Arm()
	require.NoError(t, c.SetInterval(2*time.Second))
	c.Start()
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 4)
	assert.Equal(t, State{Armed: true, Interval: time.Second}, states[0])
	assert.Equal(t, State{Armed: true, Interval: 2 * time.Second}, states[1])
	assert.True(t, states[2].Capturing)
	assert.False(t, states[3].Capturing)
}

func TestCurrentFrames(t *testing.T) {
	t.Parallel()

	srcs, fakes := sources(3)
	fakes[1].Fail(1)
	c := New(srcs, &fakeDetector{}, &fakeSink{}, testConfig())

	frames := c.CurrentFrames(context.Background())
	require.Len(t, frames, 2)
	assert.Contains(t, frames, 0)
	assert.Contains(t, frames, 2)
	assert.NotContains(t, frames, 1)
	assert.False(t, c.IsCapturing(), "current frames does not start capture")
}
