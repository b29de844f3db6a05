package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/httputil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// Client talks to a running server's API.
type Client struct {
	BaseURL string
	// Token, when set, is sent as a bearer credential.
	Token string
	HTTP  httputil.HTTPClient
}

// NewClient returns a Client for the server listening on addr, which may
// be a host:port or a full URL.
func NewClient(addr string, c httputil.HTTPClient) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(addr, "/"), HTTP: c}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	return httputil.DoJSON(ctx, c.HTTP, method, c.BaseURL+path, c.Token, in, out)
}

func (c *Client) State(ctx context.Context) (effect.Status, error) {
	var st effect.Status
	err := c.do(ctx, http.MethodGet, "/api/state", nil, &st)
	return st, err
}

func (c *Client) Displays(ctx context.Context) ([]vdisplay.Info, error) {
	var list []vdisplay.Info
	err := c.do(ctx, http.MethodGet, "/api/displays", nil, &list)
	return list, err
}

func (c *Client) AddDisplay(ctx context.Context, width, height uint32) ([]vdisplay.Info, error) {
	var list []vdisplay.Info
	err := c.do(ctx, http.MethodPost, "/api/displays", AddDisplayRequest{Width: width, Height: height}, &list)
	return list, err
}

func (c *Client) RemoveDisplay(ctx context.Context, id string) ([]vdisplay.Info, error) {
	var list []vdisplay.Info
	err := c.do(ctx, http.MethodDelete, "/api/displays/"+url.PathEscape(id), nil, &list)
	return list, err
}

func (c *Client) Recenter(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/recenter", nil, nil)
}

func (c *Client) Toggle(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/api/toggle", ToggleRequest{Enabled: enabled}, nil)
}

func (c *Client) History(ctx context.Context, limit int) (History, error) {
	var h History
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &h)
	return h, err
}

// Captures lists the capture files on the daemon host.
func (c *Client) Captures(ctx context.Context) ([]capture.FileInfo, error) {
	var files []capture.FileInfo
	err := c.do(ctx, http.MethodGet, "/api/captures", nil, &files)
	return files, err
}
