package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrConnectionFailed means the camera endpoint could not be opened.
	ErrConnectionFailed = errors.New("camera connection failed")
	// ErrReadFailed means the endpoint was opened but produced no usable frame.
	ErrReadFailed = errors.New("camera read failed")
)

// maxFrameBytes bounds a single snapshot read.
const maxFrameBytes = 16 << 20

// Frame is a JPEG image captured from one camera.
type Frame struct {
	Camera    int
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Source is a camera endpoint that can be opened for a single read.
type Source interface {
	Index() int
	Open(ctx context.Context) (Conn, error)
}

// Conn is an open connection to a camera.
type Conn interface {
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// Config tunes how a Camera reaches its endpoint.
type Config struct {
	Timeout    time.Duration
	FFmpegPath string
	HTTPClient *http.Client
}

// Camera is a network camera reachable over RTSP (through ffmpeg) or as an
// HTTP snapshot URL.
type Camera struct {
	index      int
	url        string
	timeout    time.Duration
	ffmpegPath string
	client     *http.Client
}

// New creates a camera for the given index and endpoint.
func New(index int, endpoint string, cfg Config) *Camera {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Camera{
		index:      index,
		url:        endpoint,
		timeout:    cfg.Timeout,
		ffmpegPath: cfg.FFmpegPath,
		client:     cfg.HTTPClient,
	}
}

// Index returns the camera's position in the configured camera list.
func (c *Camera) Index() int { return c.index }

// URL returns the endpoint with credentials redacted.
func (c *Camera) URL() string { return Redact(c.url) }

// Open connects to the endpoint. The connection is bounded by the camera
// timeout and must be closed by the caller.
func (c *Camera) Open(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var (
		conn Conn
		err  error
	)
	switch {
	case isHTTPSource(c.url):
		conn, err = openHTTP(ctx, cancel, c.client, c.index, c.url)
	case isStreamSource(c.url):
		conn, err = openFFmpeg(ctx, cancel, c.ffmpegPath, c.index, c.url)
	default:
		err = fmt.Errorf("%w: unsupported endpoint %s", ErrConnectionFailed, Redact(c.url))
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return conn, nil
}

// Capture opens the source, reads one frame and closes it again.
func Capture(ctx context.Context, src Source) (*Frame, error) {
	conn, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Debug().Err(cerr).Int("camera", src.Index()).Msg("camera close failed")
		}
	}()

	return conn.ReadFrame(ctx)
}

// Redact hides the password of an endpoint URL for logging.
func Redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// newFrame validates that data is a JPEG and records its dimensions.
func newFrame(index int, data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrReadFailed)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if format != "jpeg" {
		return nil, fmt.Errorf("%w: unexpected image format %q", ErrReadFailed, format)
	}
	return &Frame{
		Camera:    index,
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: time.Now(),
	}, nil
}

func isHTTPSource(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

func isStreamSource(endpoint string) bool {
	return strings.HasPrefix(endpoint, "rtsp://") ||
		strings.HasPrefix(endpoint, "rtsps://") ||
		strings.HasPrefix(endpoint, "rtmp://")
}
