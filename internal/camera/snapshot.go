package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpConn reads a single JPEG from a snapshot URL.
type httpConn struct {
	index  int
	resp   *http.Response
	cancel context.CancelFunc
}

func openHTTP(ctx context.Context, cancel context.CancelFunc, client *http.Client, index int, endpoint string) (*httpConn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: snapshot returned status %d", ErrConnectionFailed, resp.StatusCode)
	}

	return &httpConn{index: index, resp: resp, cancel: cancel}, nil
}

func (c *httpConn) ReadFrame(ctx context.Context) (*Frame, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	data, err := io.ReadAll(io.LimitReader(c.resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return newFrame(c.index, data)
}

func (c *httpConn) Close() error {
	defer c.cancel()
	return c.resp.Body.Close()
}
