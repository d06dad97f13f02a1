package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()

	args := ffmpegArgs("rtsp://cam/stream")
	assert.Contains(t, args, "-rtsp_transport")
	assert.Equal(t, []string{"-i", "rtsp://cam/stream", "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-"}, args[len(args)-9:])

	assert.NotContains(t, ffmpegArgs("rtmp://cam/live"), "-rtsp_transport")
}
