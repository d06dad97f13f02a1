package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/auth"
	"sitewatch/internal/camera"
	"sitewatch/internal/camera/camtest"
	"sitewatch/internal/controller"
	"sitewatch/internal/database"
	"sitewatch/internal/detection"
	"sitewatch/internal/services"
	"sitewatch/internal/storage"
)

type noDetections struct{}

func (noDetections) Detect(ctx context.Context, frame *camera.Frame) []detection.Box { return nil }

type stack struct {
	ctrl *controller.Controller
	srv  *httptest.Server
}

func newStack(t *testing.T, authenticator *auth.Authenticator) *stack {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	sink := storage.NewSink(storage.Config{Root: t.TempDir(), Index: db})
	sources := []camera.Source{camtest.NewSource(0, 32, 24), camtest.NewSource(1, 32, 24)}
	ctrl := controller.New(sources, noDetections{}, sink, controller.Config{
		Interval:       time.Hour,
		Tick:           5 * time.Millisecond,
		DequeueTimeout: 10 * time.Millisecond,
	})
	t.Cleanup(func() { ctrl.Stop() })

	cfg := Config{
		Control: services.NewControlService(ctrl, sink, db),
		Health:  services.NewHealthService(map[string]services.Pinger{"database": db}),
	}
	if authenticator != nil {
		cfg.Auth = services.NewAuthService(authenticator)
		cfg.Validator = authenticator
	}

	srv := httptest.NewServer(New(cfg))
	t.Cleanup(srv.Close)
	return &stack{ctrl: ctrl, srv: srv}
}

func (s *stack) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestStartStopStatus(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode(t, body)
	assert.Equal(t, "Not Capturing", status["status"])
	assert.Equal(t, float64(3600), status["save_interval"])

	resp, body = s.do(t, http.MethodPost, "/start", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Started capturing images.", decode(t, body)["status"])
	assert.True(t, s.ctrl.IsCapturing())

	resp, body = s.do(t, http.MethodPost, "/start", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, body)["changed"])

	resp, _ = s.do(t, http.MethodPost, "/stop", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.ctrl.IsCapturing())
}

func TestSetInterval(t *testing.T) {
	s := newStack(t, nil)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"valid", map[string]int{"interval": 30}, http.StatusOK},
		{"zero", map[string]int{"interval": 0}, http.StatusBadRequest},
		{"negative", map[string]int{"interval": -3}, http.StatusBadRequest},
		{"string", `{"interval": "ten"}`, http.StatusBadRequest},
		{"float", `{"interval": 1.5}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"overflow", `{"interval": 18446744075}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/set_interval", "", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusBadRequest {
				assert.Equal(t, "Interval must be a positive integer", decode(t, body)["error"])
			}
		})
	}
	assert.Equal(t, 30*time.Second, s.ctrl.State().Interval)
}

func TestArmDisarm(t *testing.T) {
	s := newStack(t, nil)

	resp, _ := s.do(t, http.MethodPost, "/arm", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.ctrl.State().Armed)

	resp, _ = s.do(t, http.MethodPost, "/disarm", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.ctrl.State().Armed)
}

func TestImagesAndEvents(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodGet, "/cameras/0/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode(t, body)["error"], "no image saved")

	resp, _ = s.do(t, http.MethodGet, "/cameras/abc/latest", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/cameras/7/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/cameras/1/frame", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, camtest.JPEG(32, 24), body)

	// The first cycle runs immediately after start.
	s.ctrl.Start()
	require.Eventually(t, func() bool {
		resp, _ := s.do(t, http.MethodGet, "/cameras/1/latest", "", nil)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/events?camera=1&limit=5", "", nil)
		events, _ := decode(t, body)["events"].([]interface{})
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = s.do(t, http.MethodGet, "/events?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiskSpaceAndProbes(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodGet, "/disk_space", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := decode(t, body)
	assert.Positive(t, usage["total"])

	resp, _ = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Password: "pw", Secret: "key"})
	require.NoError(t, err)
	s := newStack(t, a)

	resp, _ := s.do(t, http.MethodGet, "/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := decode(t, body)["token"].(string)
	require.NotEmpty(t, token)

	resp, _ = s.do(t, http.MethodPost, "/start", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.ctrl.IsCapturing())
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, statusFor(services.ErrBadRequest))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(services.ErrNotReady))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
	assert.Equal(t, "too small", message(fmt.Errorf("%w: too small", services.ErrBadRequest)))
}
