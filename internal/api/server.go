// Package api serves the HTTP control surface: virtual display
// management, effect state, driver configuration and the event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/xrdesk/xrbridge/internal/db"
	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/httputil"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	ActivationSessions(ctx context.Context, limit int) ([]db.ActivationSession, error)
	Recenters(ctx context.Context, limit int) ([]db.Recenter, error)
	DisplayEvents(ctx context.Context, limit int) ([]db.DisplayEvent, error)
}

// Options configures a Server. Engine is required; the rest are optional.
type Options struct {
	Engine        *effect.Engine
	Bridge        driveripc.Bridge
	BridgeTimeout time.Duration
	History       HistoryReader
	Auth          *Authenticator
	// CaptureDir enables the capture download routes.
	CaptureDir string
}

type Server struct {
	engine        *effect.Engine
	bridge        driveripc.Bridge
	bridgeTimeout time.Duration
	history       HistoryReader
	auth          *Authenticator
	captureDir    string
}

func NewServer(opts Options) *Server {
	s := &Server{
		engine:        opts.Engine,
		bridge:        opts.Bridge,
		bridgeTimeout: opts.BridgeTimeout,
		history:       opts.History,
		auth:          opts.Auth,
		captureDir:    opts.CaptureDir,
	}
	if s.bridge == nil {
		s.bridge = driveripc.DisabledBridge{}
	}
	if s.bridgeTimeout <= 0 {
		s.bridgeTimeout = effect.DefaultBridgeTimeout
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps /events streaming through the middleware.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. Mutating routes reject cross-site
// requests and require a bearer token when the server has an
// Authenticator.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes registers the API routes on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return LocalOrigin(s.auth.Require(next))
	}

	mux.HandleFunc("GET /api/state", s.showState)
	mux.HandleFunc("GET /api/displays", s.listDisplays)
	mux.HandleFunc("POST /api/displays", auth(s.addDisplay))
	mux.HandleFunc("DELETE /api/displays/{id}", auth(s.removeDisplay))
	mux.HandleFunc("POST /api/recenter", auth(s.recenter))
	mux.HandleFunc("POST /api/toggle", auth(s.toggle))
	mux.HandleFunc("PUT /api/focus", auth(s.setFocus))
	mux.HandleFunc("GET /api/driver/config", s.showDriverConfig)
	mux.HandleFunc("PUT /api/driver/config", auth(s.updateDriverConfig))
	mux.HandleFunc("GET /api/driver/state", s.showDriverState)
	mux.HandleFunc("POST /api/token/request", auth(s.requestToken))
	mux.HandleFunc("POST /api/token/verify", auth(s.verifyToken))
	mux.HandleFunc("GET /api/history", s.showHistory)
	mux.HandleFunc("GET /api/captures", s.listCaptures)
	mux.HandleFunc("GET /api/captures/{name}", s.downloadCapture)
	mux.HandleFunc("GET /api/captures/{name}/plot.png", s.plotCapture)
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		effect.ServeEvents(w, r, s.engine.Hub())
	})
}

func (s *Server) bridgeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.bridgeTimeout)
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.engine.Status())
}

func (s *Server) registry(w http.ResponseWriter) (*vdisplay.Registry, bool) {
	reg := s.engine.Displays()
	if reg == nil {
		httputil.ServiceUnavailable(w, "virtual displays are not available")
		return nil, false
	}
	return reg, true
}

func displayList(reg *vdisplay.Registry) []vdisplay.Info {
	list := reg.List()
	if list == nil {
		list = []vdisplay.Info{}
	}
	return list
}

func (s *Server) listDisplays(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.registry(w)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, displayList(reg))
}

// AddDisplayRequest is the body of POST /api/displays.
type AddDisplayRequest struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (s *Server) addDisplay(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.registry(w)
	if !ok {
		return
	}
	var req AddDisplayRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if _, err := reg.Add(r.Context(), req.Width, req.Height); err != nil {
		if errors.Is(err, vdisplay.ErrInvalidSize) {
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("[api] add display: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, displayList(reg))
}

// removeDisplay returns the list whether or not id was live: removal can
// race the bulk teardown on deactivation.
func (s *Server) removeDisplay(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.registry(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !reg.Remove(r.Context(), id) {
		monitoring.Debugf("[api] remove display %q: not present", id)
	}
	httputil.WriteJSONOK(w, displayList(reg))
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) recenter(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Recenter(r.Context()) {
		httputil.BadGateway(w, "driver did not accept the recenter request")
		return
	}
	httputil.WriteJSONOK(w, okResponse{OK: true})
}

// ToggleRequest is the body of POST /api/toggle.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if !s.engine.Toggle(r.Context(), req.Enabled) {
		httputil.BadGateway(w, "driver config could not be updated")
		return
	}
	httputil.WriteJSONOK(w, okResponse{OK: true})
}

// FocusRequest is the body of PUT /api/focus. Absent fields are unchanged.
type FocusRequest struct {
	Index           *int     `json:"index,omitempty"`
	FocusedDistance *float64 `json:"focused_distance,omitempty"`
	AllDistance     *float64 `json:"all_displays_distance,omitempty"`
	ZoomOnFocus     *bool    `json:"zoom_on_focus,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
}

func (s *Server) setFocus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	follow := s.engine.SmoothFollow()
	ctx, cancel := s.bridgeContext(r)
	defer cancel()
	if req.AllDistance != nil {
		follow.SetAllDistance(ctx, *req.AllDistance)
	}
	if req.FocusedDistance != nil {
		follow.SetFocusedDistance(ctx, *req.FocusedDistance)
	}
	if req.ZoomOnFocus != nil {
		follow.SetZoomOnFocus(ctx, *req.ZoomOnFocus)
	}
	if req.Threshold != nil {
		follow.SetThreshold(ctx, *req.Threshold)
	}
	if req.Index != nil {
		s.engine.SetFocus(ctx, *req.Index)
	}
	httputil.WriteJSONOK(w, follow.Settings())
}

func (s *Server) showDriverConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.bridgeContext(r)
	defer cancel()
	cfg, ok := s.bridge.RetrieveConfig(ctx)
	if !ok {
		httputil.ServiceUnavailable(w, "driver config unavailable")
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) updateDriverConfig(w http.ResponseWriter, r *http.Request) {
	var update map[string]any
	if err := httputil.DecodeJSON(w, r, &update); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if len(update) == 0 {
		httputil.BadRequest(w, "no config keys given")
		return
	}
	ctx, cancel := s.bridgeContext(r)
	defer cancel()
	if !s.bridge.WriteConfig(ctx, update) {
		httputil.BadGateway(w, "driver config could not be updated")
		return
	}
	cfg, ok := s.bridge.RetrieveConfig(ctx)
	if !ok {
		httputil.WriteJSONOK(w, okResponse{OK: true})
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) showDriverState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.bridgeContext(r)
	defer cancel()
	state, ok := s.bridge.RetrieveDriverState(ctx)
	if !ok {
		httputil.ServiceUnavailable(w, "driver state unavailable")
		return
	}
	httputil.WriteJSONOK(w, state)
}

// TokenRequest is the body of POST /api/token/request.
type TokenRequest struct {
	Email string `json:"email"`
}

// TokenVerification is the body of POST /api/token/verify.
type TokenVerification struct {
	Token string `json:"token"`
}

// The driver's config script may take far longer than a control flag
// write, so token calls use the request context alone; the file bridge
// bounds the script run itself.
func (s *Server) requestToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if req.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	httputil.WriteJSONOK(w, okResponse{OK: s.bridge.RequestToken(r.Context(), req.Email)})
}

func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req TokenVerification
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if req.Token == "" {
		httputil.BadRequest(w, "token is required")
		return
	}
	httputil.WriteJSONOK(w, okResponse{OK: s.bridge.VerifyToken(r.Context(), req.Token)})
}

// History is the body of GET /api/history.
type History struct {
	Sessions  []db.ActivationSession `json:"sessions"`
	Recenters []db.Recenter          `json:"recenters"`
	Displays  []db.DisplayEvent      `json:"displays"`
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.ServiceUnavailable(w, "history is not recorded")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var (
		h   History
		err error
	)
	ctx := r.Context()
	if h.Sessions, err = s.history.ActivationSessions(ctx, limit); err == nil {
		if h.Recenters, err = s.history.Recenters(ctx, limit); err == nil {
			h.Displays, err = s.history.DisplayEvents(ctx, limit)
		}
	}
	if err != nil {
		monitoring.Logf("[api] history query: %v", err)
		httputil.InternalServerError(w, "failed to read history")
		return
	}
	httputil.WriteJSONOK(w, h)
}
