package effect

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/xrdesk/xrbridge/internal/pose"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// Kind identifies what changed.
type Kind int

const (
	ActivationChanged Kind = iota + 1
	PoseUpdated
	DevicePropertiesChanged
	ResetStateChanged
	CursorVisibilityChanged
	VirtualDisplaysChanged
)

var kindNames = map[Kind]string{
	ActivationChanged:       "activation_changed",
	PoseUpdated:             "pose_updated",
	DevicePropertiesChanged: "device_properties_changed",
	ResetStateChanged:       "reset_state_changed",
	CursorVisibilityChanged: "cursor_visibility_changed",
	VirtualDisplaysChanged:  "virtual_displays_changed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is a state change for the rendering layer. Which payload field is
// set depends on Kind.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// Enabled is the activation state for ActivationChanged.
	Enabled bool `json:"enabled"`
	// Reset is the device reset flag for ResetStateChanged.
	Reset bool `json:"reset"`
	// CursorHidden is the requested pointer visibility for CursorVisibilityChanged.
	CursorHidden bool `json:"cursor_hidden"`

	Pose     *pose.State        `json:"pose,omitempty"`
	Device   *pose.DeviceConfig `json:"device,omitempty"`
	Displays []vdisplay.Info    `json:"displays,omitempty"`
}

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 32

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose queue is full misses the event.
type Hub struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan Event
	closing     bool
	dropped     uint64
}

// NewHub returns a Hub. A non-positive buffer uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]chan Event),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. The channel is closed by Unsubscribe
// or Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		// Already closed: hand back a closed channel so readers don't block.
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers ev to every subscriber with room in its queue and
// returns how many received it.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return 0
	}
	n := 0
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
			n++
		default:
			h.dropped++
		}
	}
	return n
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
