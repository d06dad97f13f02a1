package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"sitewatch/internal/camera"
	"sitewatch/internal/pipeline"
)

// captureLoop runs a capture cycle whenever the interval has elapsed since
// the previous cycle started. The first cycle runs immediately.
func (c *Controller) captureLoop(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	aligner := pipeline.NewAligner(len(c.sources), c.bufferCap)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var lastStart time.Time
	for {
		select {
		case <-stop:
			return
		default:
		}

		if lastStart.IsZero() || time.Since(lastStart) >= c.interval() {
			lastStart = time.Now()
			c.runCycle(ctx, aligner)
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// runCycle captures one frame per camera and hands a completed aligned set
// to the detection queue.
func (c *Controller) runCycle(ctx context.Context, aligner *pipeline.Aligner) {
	c.cycles.Add(1)
	c.lastCycle.Store(time.Now().UnixNano())

	for _, f := range captureAll(ctx, c.sources) {
		if f == nil {
			continue
		}
		if err := aligner.Add(f); err != nil {
			log.Warn().Err(err).Msg("discarding frame")
		}
	}

	set, ok := aligner.Align()
	if !ok {
		log.Debug().Ints("pending", aligner.Pending()).Msg("waiting for frames from every camera")
		return
	}
	for i, f := range set {
		c.queue.Enqueue(pipeline.Item{Camera: i, Frame: f})
	}
}

// detectionLoop drains the queue, runs detection and persists the result.
func (c *Controller) detectionLoop(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		item, ok := c.queue.Dequeue(c.dequeueTimeout)

		select {
		case <-stop:
			return
		default:
		}
		if !ok {
			continue
		}

		c.process(ctx, stop, item)
	}
}

func (c *Controller) process(ctx context.Context, stop <-chan struct{}, item pipeline.Item) {
	boxes := c.detector.Detect(ctx, item.Frame)

	// A detection cut short by Stop says nothing about the frame.
	select {
	case <-stop:
		return
	default:
	}

	armed := c.armed()
	if err := c.sink.Save(context.WithoutCancel(ctx), item.Camera, item.Frame, boxes, armed); err != nil {
		log.Error().Err(err).Int("camera", item.Camera).Msg("failed to persist frame")
		return
	}
	c.processed.Add(1)
}

// captureAll reads every camera concurrently. The result is indexed like
// sources; failed cameras leave a nil entry.
func captureAll(ctx context.Context, sources []camera.Source) []*camera.Frame {
	frames := make([]*camera.Frame, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src camera.Source) {
			defer wg.Done()
			f, err := camera.Capture(ctx, src)
			if err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					log.Warn().Err(err).Int("camera", src.Index()).Msg("capture failed")
				}
				return
			}
			frames[i] = f
		}(i, src)
	}
	wg.Wait()
	return frames
}
