package effect

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	id1, c1 := h.Subscribe()
	_, c2 := h.Subscribe()
	require.Equal(t, 2, h.Len())

	n := h.Publish(Event{Kind: PoseUpdated})
	assert.Equal(t, 2, n)
	assert.Equal(t, PoseUpdated, (<-c1).Kind)
	assert.Equal(t, PoseUpdated, (<-c2).Kind)

	h.Unsubscribe(id1)
	_, ok := <-c1
	assert.False(t, ok, "unsubscribed channel should be closed")
	assert.Equal(t, 1, h.Publish(Event{Kind: ResetStateChanged}))

	h.Unsubscribe("unknown")
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(2)
	_, c := h.Subscribe()

	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: PoseUpdated})
	}
	assert.Len(t, c, 2)
	assert.Equal(t, uint64(3), h.Dropped())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(0)
	_, c := h.Subscribe()
	h.Close()
	h.Close()

	_, ok := <-c
	assert.False(t, ok)
	assert.Equal(t, 0, h.Publish(Event{Kind: PoseUpdated}))

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close returns a closed channel")
}

func TestKindText(t *testing.T) {
	for k := range kindNames {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	_, err := Kind(99).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "Kind(99)", Kind(99).String())

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("nope")))
}

func TestEventJSON(t *testing.T) {
	ev := Event{
		Kind:     VirtualDisplaysChanged,
		At:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Displays: []vdisplay.Info{{ID: "BreezyDesktop_VirtualDisplay_1920x1080_1", Width: 1920, Height: 1080}},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "virtual_displays_changed", got["kind"])
	assert.NotContains(t, got, "pose")
	assert.Len(t, got["displays"], 1)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)
	mux := http.NewServeMux()
	h.engine.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/effect", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.NotEmpty(t, st.InstanceID)
}

func TestServeEvents(t *testing.T) {
	hub := NewHub(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeEvents(w, r, hub)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	// The handler subscribes before the ping, so this publish is delivered.
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, time.Millisecond)
	hub.Publish(Event{Kind: ActivationChanged, Enabled: true})

	var lines []string
	for len(lines) < 2 {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: activation_changed", lines[0])
	assert.Contains(t, lines[1], `"enabled":true`)
}
