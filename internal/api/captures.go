package api

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/chart"
	"github.com/xrdesk/xrbridge/internal/httputil"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/security"
)

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	if s.captureDir == "" {
		httputil.NotFound(w, "captures are not enabled")
		return
	}
	files, err := capture.List(s.captureDir)
	if err != nil {
		monitoring.Logf("[api] list captures: %v", err)
		httputil.InternalServerError(w, "failed to list captures")
		return
	}
	httputil.WriteJSONOK(w, files)
}

// capturePath resolves the {name} path value to a capture file, writing the
// error response itself when it cannot.
func (s *Server) capturePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.captureDir == "" {
		httputil.NotFound(w, "captures are not enabled")
		return "", false
	}
	name := r.PathValue("name")
	if !strings.HasSuffix(name, capture.Extension) {
		httputil.NotFound(w, "not a capture file")
		return "", false
	}
	path, err := security.ResolveIn(s.captureDir, name)
	if err != nil {
		httputil.BadRequest(w, "invalid capture name")
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		httputil.NotFound(w, "capture not found")
		return "", false
	}
	return path, true
}

func (s *Server) downloadCapture(w http.ResponseWriter, r *http.Request) {
	path, ok := s.capturePath(w, r)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		httputil.NotFound(w, "capture not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		httputil.InternalServerError(w, "failed to read capture")
		return
	}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) plotCapture(w http.ResponseWriter, r *http.Request) {
	path, ok := s.capturePath(w, r)
	if !ok {
		return
	}
	cr, err := capture.Open(path)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	defer cr.Close()
	records, err := cr.ReadAll()
	if err != nil {
		// A capture cut short by a crash still plots up to the damage.
		monitoring.Logf("[api] %s: %v", path, err)
	}
	samples, _ := chart.FromCapture(records)

	var buf bytes.Buffer
	if err := chart.WritePNG(&buf, samples, r.PathValue("name")); err != nil {
		if errors.Is(err, chart.ErrNoSamples) {
			httputil.NotFound(w, "capture has no readable frames")
			return
		}
		httputil.InternalServerError(w, "failed to render plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
