package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog/log"

	"sitewatch/internal/camera"
)

// ErrUnavailable wraps every failure to obtain a result from the service.
var ErrUnavailable = errors.New("detection service unavailable")

// Config holds configuration for the detection client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client posts frames to an HTTP object-detection service.
type Client struct {
	endpoint string
	client   *http.Client
}

// detectResponse is the service's JSON reply. Individual boxes are decoded
// lazily so one malformed entry does not discard the rest.
type detectResponse struct {
	ResultBoxes []json.RawMessage `json:"result_boxes"`
}

// NewClient creates a detection client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Endpoint returns the URL frames are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Detect returns the boxes found in frame, in frame pixel coordinates.
// Failures are logged and yield no boxes.
func (c *Client) Detect(ctx context.Context, frame *camera.Frame) []Box {
	raw, err := c.Request(ctx, frame.Data)
	if err != nil {
		log.Warn().Err(err).Int("camera", frame.Camera).Msg("detection failed")
		return nil
	}
	return Rescale(raw, frame.Width, frame.Height)
}

// Request sends one JPEG to the service and returns the raw model-space boxes.
func (c *Client) Request(ctx context.Context, jpeg []byte) ([]RawBox, error) {
	body, contentType, err := encodeImage(jpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	return parseBoxes(result.ResultBoxes), nil
}

func parseBoxes(entries []json.RawMessage) []RawBox {
	boxes := make([]RawBox, 0, len(entries))
	for i, entry := range entries {
		var coords []float64
		if err := json.Unmarshal(entry, &coords); err != nil || len(coords) != 4 {
			log.Debug().Int("index", i).Str("box", string(entry)).Msg("skipping malformed box")
			continue
		}
		box := RawBox{coords[0], coords[1], coords[2], coords[3]}
		if !box.valid() {
			log.Debug().Int("index", i).Str("box", string(entry)).Msg("skipping out of range box")
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes
}

// encodeImage builds the multipart body with the JPEG in the "image" field.
func encodeImage(jpeg []byte) (*bytes.Buffer, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &b, w.FormDataContentType(), nil
}
