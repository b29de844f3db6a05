package api

import (
	"bytes"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/testutil"
)

func newCaptureServer(t *testing.T) (*http.ServeMux, string, string) {
	t.Helper()
	dir := t.TempDir()
	w, path, err := capture.Create(dir, t0)
	testutil.AssertNoError(t, err)
	for i := 0; i < 5; i++ {
		at := t0.Add(time.Duration(i) * 20 * time.Millisecond)
		testutil.AssertNoError(t, w.WriteFrame(at, telemetry.Encode(testutil.UsableFrame(at, testutil.Tilted))))
	}
	testutil.AssertNoError(t, w.Close())

	ts := newTestServer(t, "")
	srv := NewServer(Options{Engine: ts.engine, CaptureDir: dir})
	return srv.ServeMux(), dir, filepath.Base(path)
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, path))
	return rec
}

func TestCaptures_List(t *testing.T) {
	mux, _, name := newCaptureServer(t)
	rec := get(mux, "/api/captures")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	files := decode[[]capture.FileInfo](t, rec)
	if len(files) != 1 || files[0].Name != name || files[0].Size == 0 {
		t.Errorf("files = %+v", files)
	}
}

func TestCaptures_Download(t *testing.T) {
	mux, dir, name := newCaptureServer(t)
	rec := get(mux, "/api/captures/"+name)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/zstd" {
		t.Errorf("Content-Type = %q", ct)
	}
	want, err := os.ReadFile(filepath.Join(dir, name))
	testutil.AssertNoError(t, err)
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Error("downloaded bytes differ from the file")
	}

	r, err := capture.NewReader(rec.Body)
	testutil.AssertNoError(t, err)
	recs, err := r.ReadAll()
	testutil.AssertNoError(t, err)
	if len(recs) != 5 {
		t.Errorf("records = %d, want 5", len(recs))
	}
}

func TestCaptures_Plot(t *testing.T) {
	mux, _, name := newCaptureServer(t)
	rec := get(mux, "/api/captures/"+name+"/plot.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if _, err := png.DecodeConfig(rec.Body); err != nil {
		t.Errorf("not a PNG: %v", err)
	}
}

func TestCaptures_Rejects(t *testing.T) {
	mux, dir, _ := newCaptureServer(t)
	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	outside := filepath.Join(t.TempDir(), "secret"+capture.Extension)
	testutil.AssertNoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	testutil.AssertNoError(t, os.Symlink(outside, filepath.Join(dir, "evil"+capture.Extension)))

	tests := []struct {
		path string
		want int
	}{
		{"/api/captures/notes.txt", http.StatusNotFound},
		{"/api/captures/missing" + capture.Extension, http.StatusNotFound},
		{"/api/captures/evil" + capture.Extension, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := get(mux, tt.path)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	// Without a capture directory the routes are off.
	ts := newTestServer(t, "")
	rec := get(ts.mux, "/api/captures")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestClient_Captures(t *testing.T) {
	mux, _, name := newCaptureServer(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	files, err := NewClient(srv.URL, srv.Client()).Captures(t.Context())
	testutil.AssertNoError(t, err)
	if len(files) != 1 || files[0].Name != name {
		t.Errorf("Captures = %+v", files)
	}
}
