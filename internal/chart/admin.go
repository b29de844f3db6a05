package chart

import (
	"bytes"
	"errors"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes serves the recorder's recent poses under /debug/.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("pose-chart", "recent head orientation (interactive)", func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		if err := RenderHTML(&buf, r.Samples(), "Head orientation"); err != nil {
			writeRenderError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleFunc("pose-plot.png", "recent head orientation (PNG)", func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		if err := WritePNG(&buf, r.Samples(), "Head orientation"); err != nil {
			writeRenderError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})
}

func writeRenderError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoSamples) {
		http.Error(w, "no pose samples recorded yet", http.StatusNotFound)
		return
	}
	http.Error(w, "failed to render chart: "+err.Error(), http.StatusInternalServerError)
}
