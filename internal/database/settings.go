package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	keyInterval = "capture_interval_seconds"
	keyArmed    = "armed"
)

// Settings are the operator-controlled values that survive a restart.
type Settings struct {
	Interval time.Duration
	Armed    bool
}

// SaveSettings stores the capture interval and armed flag.
func (d *Database) SaveSettings(ctx context.Context, s Settings) error {
	if err := d.SaveConfig(ctx, keyInterval, strconv.Itoa(int(s.Interval/time.Second))); err != nil {
		return err
	}
	return d.SaveConfig(ctx, keyArmed, strconv.FormatBool(s.Armed))
}

// LoadSettings returns stored settings, falling back to defaults for any
// value that was never saved.
func (d *Database) LoadSettings(ctx context.Context, defaults Settings) (Settings, error) {
	s := defaults

	raw, err := d.GetConfig(ctx, keyInterval)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return defaults, err
	default:
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 1 {
			return defaults, fmt.Errorf("invalid stored interval %q", raw)
		}
		s.Interval = time.Duration(secs) * time.Second
	}

	raw, err = d.GetConfig(ctx, keyArmed)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return defaults, err
	default:
		armed, err := strconv.ParseBool(raw)
		if err != nil {
			return defaults, fmt.Errorf("invalid stored armed flag %q", raw)
		}
		s.Armed = armed
	}

	return s, nil
}
