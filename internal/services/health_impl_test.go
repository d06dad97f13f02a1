package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("database is locked") })

	h := NewHealthService(map[string]Pinger{"database": ok})
	assert.NoError(t, h.Healthz(context.Background()))
	assert.NoError(t, h.Readyz(context.Background()))

	h = NewHealthService(map[string]Pinger{"database": down})
	assert.NoError(t, h.Healthz(context.Background()))
	assert.ErrorIs(t, h.Readyz(context.Background()), ErrNotReady)
}
