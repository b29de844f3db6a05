package vdisplay

import (
	"context"
	"sync"
)

// MockOutput is the Output of a MockBackend.
type MockOutput struct {
	Name          string
	Width, Height uint32
}

// MockBackend keeps displays in memory. It backs dev mode and tests.
type MockBackend struct {
	mu        sync.Mutex
	live      map[*MockOutput]bool
	created   int
	destroyed int

	// CreateErr and DestroyErr, when set, are returned by the next call and
	// then cleared.
	CreateErr  error
	DestroyErr error
}

// NewMockBackend returns an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{live: make(map[*MockOutput]bool)}
}

func (m *MockBackend) Create(_ context.Context, name string, width, height uint32) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CreateErr; err != nil {
		m.CreateErr = nil
		return nil, err
	}
	out := &MockOutput{Name: name, Width: width, Height: height}
	m.live[out] = true
	m.created++
	return out, nil
}

func (m *MockBackend) Destroy(_ context.Context, out Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DestroyErr; err != nil {
		m.DestroyErr = nil
		return err
	}
	if o, ok := out.(*MockOutput); ok {
		delete(m.live, o)
	}
	m.destroyed++
	return nil
}

// Alive reports whether out has not been destroyed or killed.
func (m *MockBackend) Alive(out Output) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := out.(*MockOutput)
	return ok && m.live[o]
}

// Kill simulates an output dying outside the registry's control.
func (m *MockBackend) Kill(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for o := range m.live {
		if o.Name == name {
			delete(m.live, o)
		}
	}
}

// Counts returns how many outputs were created and destroyed.
func (m *MockBackend) Counts() (created, destroyed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.destroyed
}

// Live returns the number of live outputs.
func (m *MockBackend) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
