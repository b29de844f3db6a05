package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xrdesk/xrbridge/internal/httputil"
)

func TestClient_AgainstServer(t *testing.T) {
	ts := newTestServer(t, "s3cret")
	srv := httptest.NewServer(ts.mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, srv.Client())

	if _, err := c.AddDisplay(ctx, 1920, 1080); err == nil {
		t.Fatal("AddDisplay without a token should fail")
	} else {
		var se *httputil.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
			t.Fatalf("err = %v", err)
		}
	}

	token, err := ts.auth.Issue("cli", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.Token = token

	list, err := c.AddDisplay(ctx, 1920, 1080)
	if err != nil || len(list) != 1 {
		t.Fatalf("AddDisplay = %v, %v", list, err)
	}
	list, err = c.Displays(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("Displays = %v, %v", list, err)
	}
	list, err = c.RemoveDisplay(ctx, list[0].ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("RemoveDisplay = %v, %v", list, err)
	}

	if err := c.Recenter(ctx); err != nil {
		t.Errorf("Recenter: %v", err)
	}
	if err := c.Toggle(ctx, false); err != nil {
		t.Errorf("Toggle: %v", err)
	}
	st, err := c.State(ctx)
	if err != nil || st.Counters.Recenters != 1 {
		t.Errorf("State = %+v, %v", st.Counters, err)
	}
	h, err := c.History(ctx, 1)
	if err != nil || len(h.Recenters) != 1 {
		t.Errorf("History = %+v, %v", h, err)
	}
}

func TestClient_RequestShape(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `[]`)
	c := NewClient("127.0.0.1:8787/", m)
	c.Token = "tok"

	if _, err := c.RemoveDisplay(context.Background(), "XR display/1"); err != nil {
		t.Fatal(err)
	}
	req := m.Requests[0]
	if req.Method != http.MethodDelete {
		t.Errorf("method = %s", req.Method)
	}
	if got := req.URL.String(); got != "http://127.0.0.1:8787/api/displays/XR%20display%2F1" {
		t.Errorf("url = %s", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
}
