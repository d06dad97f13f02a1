package telegram

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrDispatcherClosed is returned by SubmitAlert once Run has exited.
	ErrDispatcherClosed = errors.New("alert dispatcher closed")
	// ErrDispatcherBusy is returned by SubmitAlert when the backlog is full.
	ErrDispatcherBusy = errors.New("alert dispatcher queue full")
)

// AlertSender delivers a single alert. *Bot satisfies it.
type AlertSender interface {
	SendAlert(ctx context.Context, message string, image []byte) error
}

type alert struct {
	message string
	image   []byte
}

// DispatcherStats counts alert outcomes.
type DispatcherStats struct {
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Suppressed uint64 `json:"suppressed"`
	Rejected   uint64 `json:"rejected"`
}

// Dispatcher hands alerts from the detection worker to a goroutine that owns
// all Bot API traffic, so submitting never waits on the network.
type Dispatcher struct {
	sender      AlertSender
	queue       chan alert
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	sent       atomic.Uint64
	failed     atomic.Uint64
	suppressed atomic.Uint64
	rejected   atomic.Uint64
}

// NewDispatcher creates a dispatcher buffering up to backlog alerts.
func NewDispatcher(sender AlertSender, backlog int) *Dispatcher {
	if backlog <= 0 {
		backlog = 32
	}
	return &Dispatcher{
		sender:      sender,
		queue:       make(chan alert, backlog),
		sendTimeout: 30 * time.Second,
	}
}

// SubmitAlert queues an alert without blocking. Alerts submitted before Run
// starts are delivered once it does.
func (d *Dispatcher) SubmitAlert(message string, image []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.rejected.Add(1)
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- alert{message: message, image: image}:
		return nil
	default:
		d.rejected.Add(1)
		return ErrDispatcherBusy
	}
}

// Run delivers queued alerts until ctx is cancelled. Alerts still queued
// at that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		discarded := 0
		for {
			select {
			case <-d.queue:
				discarded++
			default:
				if discarded > 0 {
					log.Warn().Int("discarded", discarded).Msg("alert dispatcher stopped with pending alerts")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a alert) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := d.sender.SendAlert(ctx, a.message, a.image)
	switch {
	case err == nil:
		d.sent.Add(1)
	case errors.Is(err, ErrCooldown):
		d.suppressed.Add(1)
		log.Debug().Msg("alert suppressed by cooldown")
	default:
		d.failed.Add(1)
		log.Error().Err(err).Str("component", "telegram").Msg("failed to send alert")
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:       d.sent.Load(),
		Failed:     d.failed.Load(),
		Suppressed: d.suppressed.Load(),
		Rejected:   d.rejected.Load(),
	}
}
