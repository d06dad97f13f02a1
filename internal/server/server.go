// Package server exposes the capture control API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	zlog "github.com/rs/zerolog/log"

	mw "sitewatch/internal/middleware"
	"sitewatch/internal/services"
	"sitewatch/internal/storage"
)

// Control is the capture control surface served over HTTP.
type Control interface {
	StartCapture(ctx context.Context) (*services.ActionResult, error)
	StopCapture(ctx context.Context) (*services.ActionResult, error)
	Status(ctx context.Context) (*services.CaptureStatus, error)
	SetInterval(ctx context.Context, seconds int) (*services.ActionResult, error)
	Arm(ctx context.Context) (*services.ActionResult, error)
	Disarm(ctx context.Context) (*services.ActionResult, error)
	LatestImage(ctx context.Context, cam int) (*services.Image, error)
	CurrentFrame(ctx context.Context, cam int) (*services.Image, error)
	Events(ctx context.Context, q services.EventQuery) ([]*services.Event, error)
	DiskSpace(ctx context.Context) (*storage.DiskUsage, error)
}

// Health implements the liveness and readiness probes.
type Health interface {
	Healthz(ctx context.Context) error
	Readyz(ctx context.Context) error
}

// Auth implements login and auth status.
type Auth interface {
	Login(ctx context.Context, p *services.LoginPayload) (*services.LoginResult, error)
	Status(ctx context.Context) (*services.AuthStatus, error)
}

// Config wires the API. Auth, Validator and Detections are optional.
type Config struct {
	Control    Control
	Health     Health
	Auth       Auth
	Validator  mw.TokenValidator
	Detections http.Handler
	// Logger receives goa request logs.
	Logger *log.Logger
	// DebugWriter, when set, receives full request and response dumps.
	DebugWriter io.Writer
}

// publicPaths bypass bearer authentication.
var publicPaths = []string{"/healthz", "/readyz", "/auth/login", "/auth/status"}

type server struct {
	cfg Config
	mux goahttp.Muxer
}

// New builds the HTTP handler.
func New(cfg Config) http.Handler {
	s := &server{cfg: cfg, mux: goahttp.NewMuxer()}
	s.mount()

	var handler http.Handler = s.mux
	if cfg.Validator != nil {
		handler = mw.AuthMiddleware(cfg.Validator, publicPaths...)(handler)
	}
	if cfg.DebugWriter != nil {
		handler = httpmdlwr.Debug(s.mux, cfg.DebugWriter)(handler)
	}
	if cfg.Logger != nil {
		handler = httpmdlwr.Log(middleware.NewLogger(cfg.Logger))(handler)
	}
	handler = httpmdlwr.RequestID()(handler)

	if cfg.Detections == nil {
		return handler
	}

	// Websocket upgrades need the raw ResponseWriter, so they skip the
	// logging middleware.
	var detections http.Handler = cfg.Detections
	if cfg.Validator != nil {
		detections = mw.AuthMiddleware(cfg.Validator)(detections)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/detections/") {
			detections.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *server) mount() {
	s.mux.Handle(http.MethodPost, "/start", s.action(s.cfg.Control.StartCapture))
	s.mux.Handle(http.MethodPost, "/stop", s.action(s.cfg.Control.StopCapture))
	s.mux.Handle(http.MethodPost, "/arm", s.action(s.cfg.Control.Arm))
	s.mux.Handle(http.MethodPost, "/disarm", s.action(s.cfg.Control.Disarm))
	s.mux.Handle(http.MethodPost, "/set_interval", s.setInterval)
	s.mux.Handle(http.MethodGet, "/status", s.status)
	s.mux.Handle(http.MethodGet, "/cameras/{index}/latest", s.image(s.cfg.Control.LatestImage))
	s.mux.Handle(http.MethodGet, "/cameras/{index}/frame", s.image(s.cfg.Control.CurrentFrame))
	s.mux.Handle(http.MethodGet, "/events", s.events)
	s.mux.Handle(http.MethodGet, "/disk_space", s.diskSpace)

	if s.cfg.Health != nil {
		s.mux.Handle(http.MethodGet, "/healthz", s.probe(s.cfg.Health.Healthz))
		s.mux.Handle(http.MethodGet, "/readyz", s.probe(s.cfg.Health.Readyz))
	}
	if s.cfg.Auth != nil {
		s.mux.Handle(http.MethodPost, "/auth/login", s.login)
		s.mux.Handle(http.MethodGet, "/auth/status", s.authStatus)
	}
}

func (s *server) action(fn func(context.Context) (*services.ActionResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.encode(w, r, http.StatusOK, res)
	}
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Control.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, res)
}

func (s *server) setInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Interval *int `json:"interval"`
	}
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil || body.Interval == nil {
		s.writeError(w, r, fmt.Errorf("%w: Interval must be a positive integer", services.ErrBadRequest))
		return
	}

	res, err := s.cfg.Control.SetInterval(r.Context(), *body.Interval)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, res)
}

func (s *server) image(fn func(context.Context, int) (*services.Image, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cam, err := strconv.Atoi(s.mux.Vars(r)["index"])
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: camera index must be an integer", services.ErrBadRequest))
			return
		}

		img, err := fn(r.Context(), cam)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
		w.Header().Set("Last-Modified", img.Timestamp.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(img.Data)
	}
}

func (s *server) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query services.EventQuery

	if v := q.Get("camera"); v != "" {
		cam, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: camera must be an integer", services.ErrBadRequest))
			return
		}
		query.Camera = &cam
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", services.ErrBadRequest))
			return
		}
		query.Limit = limit
	}
	query.OnlyDetections = q.Get("detections") == "true"

	events, err := s.cfg.Control.Events(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *server) diskSpace(w http.ResponseWriter, r *http.Request) {
	usage, err := s.cfg.Control.DiskSpace(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, usage)
}

func (s *server) probe(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.encode(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid login payload", services.ErrBadRequest))
		return
	}

	res, err := s.cfg.Auth.Login(r.Context(), &payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, res)
}

func (s *server) authStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Auth.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, res)
}

func (s *server) encode(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	enc := goahttp.ResponseEncoder(r.Context(), w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		zlog.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("failed to encode response")
	}
}

// writeError writes {"error": msg} with a status derived from the service error.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zlog.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	s.encode(w, r, status, map[string]string{"error": message(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// message strips the leading sentinel text from a wrapped service error.
func message(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{services.ErrBadRequest, services.ErrUnauthorized, services.ErrNotFound, services.ErrNotReady} {
		if errors.Is(err, sentinel) {
			msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	return msg
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}
