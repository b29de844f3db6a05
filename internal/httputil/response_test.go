package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "x") }, http.StatusUnauthorized},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
		{"bad gateway", func(w http.ResponseWriter) { BadGateway(w, "x") }, http.StatusBadGateway},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "x") }, http.StatusServiceUnavailable},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.fn(rec)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	Unauthorized(rec, "no token")
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Width int `json:"width"`
	}
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"ok", `{"width": 1920}`, 1920, false},
		{"empty", ``, 7, true},
		{"unknown field", `{"width": 1, "depth": 2}`, 7, true},
		{"trailing", `{"width": 1} {"width": 2}`, 7, true},
		{"too large", `{"width": 1, "pad": "` + strings.Repeat("x", MaxBodyBytes) + `"}`, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))
			req.Header.Set("Content-Type", "application/json")
			got := body{Width: 7}
			err := DecodeJSON(httptest.NewRecorder(), req, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			// A rejected body leaves the destination untouched.
			if got.Width != tt.want {
				t.Errorf("width = %d, want %d", got.Width, tt.want)
			}
		})
	}
}

func TestDecodeJSON_ContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		wantErr     error
	}{
		{"application/json", nil},
		{"application/json; charset=utf-8", nil},
		{"", ErrUnsupportedMediaType},
		{"text/plain", ErrUnsupportedMediaType},
		{"application/x-www-form-urlencoded", ErrUnsupportedMediaType},
		{"multipart/form-data; boundary=x", ErrUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"n": 1}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			var got struct {
				N int `json:"n"`
			}
			err := DecodeJSON(httptest.NewRecorder(), req, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && got.N != 0 {
				t.Errorf("n = %d after a rejected body", got.N)
			}
		})
	}
}

func TestDecodeJSON_NeedsPointer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	var m map[string]any
	if err := DecodeJSON(httptest.NewRecorder(), req, m); err == nil {
		t.Error("non-pointer destination should fail")
	}
}

func TestWriteDecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDecodeError(rec, ErrUnsupportedMediaType)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}

	rec = httptest.NewRecorder()
	WriteDecodeError(rec, errors.New("invalid request body: trailing data"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
