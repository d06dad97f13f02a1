package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ffmpegConn grabs a single frame by running ffmpeg against the stream.
type ffmpegConn struct {
	index  int
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	done   bool
}

func ffmpegArgs(endpoint string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(endpoint, "rtsp") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", endpoint,
		"-vframes", "1",
		"-f", "mjpeg",
		"-q:v", "2",
		"-",
	)
}

func openFFmpeg(ctx context.Context, cancel context.CancelFunc, path string, index int, endpoint string) (*ffmpegConn, error) {
	cmd := exec.CommandContext(ctx, path, ffmpegArgs(endpoint)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrConnectionFailed, err)
	}

	return &ffmpegConn{
		index:  index,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		cancel: cancel,
	}, nil
}

func (c *ffmpegConn) ReadFrame(ctx context.Context) (*Frame, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	data, readErr := io.ReadAll(io.LimitReader(c.stdout, maxFrameBytes))
	waitErr := c.cmd.Wait()
	c.done = true

	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v (stderr: %s)", ErrReadFailed, waitErr, strings.TrimSpace(c.stderr.String()))
	}
	return newFrame(c.index, data)
}

func (c *ffmpegConn) Close() error {
	c.cancel()
	if !c.done {
		// The context kill has already been requested; reap the process.
		_ = c.cmd.Wait()
		c.done = true
	}
	return nil
}
