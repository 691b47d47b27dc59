// Package api serves the host operator's HTTP surface: the lobby and round
// controls a shared screen would otherwise offer, plus the join QR code,
// health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/protocol"
)

const (
	defaultQRSize = 320
	maxQRSize     = 1024
	maxBodySize   = 4 << 10
)

// Host is the part of game.Host the operator drives.
type Host interface {
	Snapshot() protocol.Snapshot
	StartGame() error
	SelectMode(name string) error
	Begin() error
	Continue() error
	Kick(id string) error
	Abandon()
}

var _ Host = (*game.Host)(nil)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RoomResponse describes the room controllers join.
type RoomResponse struct {
	Code    string `json:"code"`
	JoinURL string `json:"joinUrl"`
}

// ModeRequest selects the game mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// Server routes operator requests to a host.
type Server struct {
	host     Host
	code     string
	joinURL  string
	gatherer prometheus.Gatherer
	peer     http.Handler
	log      *zap.Logger
	router   *httprouter.Router
}

// Option configures a Server.
type Option func(*Server)

// WithRoom sets the room code and the base URL encoded in the QR code.
func WithRoom(code, baseURL string) Option {
	return func(s *Server) {
		s.code = code
		s.joinURL = baseURL
	}
}

// WithGatherer exposes the collectors of g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithPeerHandler serves direct websocket controllers at /peer/:code.
func WithPeerHandler(h http.Handler) Option {
	return func(s *Server) { s.peer = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates the operator API for host.
func New(host Host, opts ...Option) *Server {
	s := &Server{
		host: host,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("api")
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.log.Error("💥 handler panic", zap.String("path", r.URL.Path), zap.Any("panic", v))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	mux.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	mux.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	mux.GET("/healthz", s.serveHealthCheck)
	mux.GET("/api/room", s.serveRoom)
	mux.GET("/api/state", s.serveState)
	mux.POST("/api/start", s.action("start", s.host.StartGame))
	mux.POST("/api/mode", s.serveSelectMode)
	mux.POST("/api/begin", s.action("begin", s.host.Begin))
	mux.POST("/api/continue", s.action("continue", s.host.Continue))
	mux.POST("/api/kick/:id", s.serveKick)
	mux.POST("/api/abandon", s.action("abandon", func() error {
		s.host.Abandon()
		return nil
	}))
	mux.GET("/qr", s.serveQR)

	if s.gatherer != nil {
		mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.peer != nil {
		mux.Handler(http.MethodGet, "/peer/:code", s.peer)
	}
	return mux
}

func (s *Server) serveHealthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) serveRoom(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, RoomResponse{Code: s.code, JoinURL: s.joinLink()})
}

func (s *Server) serveState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

// action wraps a parameterless operator call.
func (s *Server) action(name string, fn func() error) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if err := fn(); err != nil {
			s.fail(w, name, err)
			return
		}
		s.log.Info("🕹️ operator action", zap.String("action", name))
		writeJSON(w, http.StatusOK, s.host.Snapshot())
	}
}

func (s *Server) serveSelectMode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := s.host.SelectMode(req.Mode); err != nil {
		s.fail(w, "mode", err)
		return
	}
	s.log.Info("🕹️ operator action", zap.String("action", "mode"), zap.String("mode", req.Mode))
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

func (s *Server) serveKick(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if err := s.host.Kick(id); err != nil {
		s.fail(w, "kick", err)
		return
	}
	s.log.Info("🕹️ operator action", zap.String("action", "kick"), zap.String("player", id))
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

// serveQR renders the join link as a PNG. ?size= picks the edge length.
func (s *Server) serveQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.code == "" {
		writeError(w, http.StatusNotFound, "no room")
		return
	}
	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > maxQRSize {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		size = n
	}

	png, err := qrcode.Encode(s.joinLink(), qrcode.Medium, size)
	if err != nil {
		s.log.Error("qr generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) joinLink() string {
	if s.code == "" {
		return ""
	}
	if s.joinURL == "" {
		return s.code
	}
	return s.joinURL + "/?room=" + url.QueryEscape(s.code)
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("operator action failed", zap.String("action", action), zap.Error(err))
	} else {
		s.log.Debug("operator action rejected", zap.String("action", action), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrWrongPhase),
		errors.Is(err, game.ErrNoPlayers),
		errors.Is(err, game.ErrNoModeSelected):
		return http.StatusConflict
	case errors.Is(err, game.ErrUnknownPlayer),
		errors.Is(err, game.ErrUnknownMode):
		return http.StatusNotFound
	case errors.Is(err, game.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
