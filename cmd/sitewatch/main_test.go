package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		setupLogger(tt.level, "json")
		assert.Equal(t, tt.want, zerolog.GlobalLevel(), tt.level)
	}
}

func TestDebugWriter(t *testing.T) {
	assert.Nil(t, debugWriter(false))
	assert.NotNil(t, debugWriter(true))
}
