package model

import (
	"context"
	"fmt"
	"sync"
)

// MockPort is a lightweight in-memory Port useful for tests and examples.
// Responses can be registered per prompt, scripted as an ordered sequence,
// or produced by a handler function. Calls are counted for assertions
// about submission behavior (e.g. cancellation before fan-out must result
// in zero invocations).
type MockPort struct {
	mu        sync.Mutex
	calls     int
	responses map[string]string
	script    []func(req Request) (*Response, error)
	handler   func(ctx context.Context, req Request) (*Response, error)
}

// NewMockPort constructs an empty MockPort. Without registered responses
// it echoes a deterministic placeholder, which keeps chains runnable in
// examples without canned data.
func NewMockPort() *MockPort {
	return &MockPort{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned completion for the last
// user message of a request.
func (m *MockPort) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends a scripted behavior consumed in order, one per call.
// Scripted behaviors take precedence over canned responses.
func (m *MockPort) Enqueue(fn func(req Request) (*Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, fn)
}

// SetHandler installs a handler invoked for every call, overriding canned
// and scripted responses. The handler receives the call context so tests
// can block on cancellation or simulate slow calls.
func (m *MockPort) SetHandler(fn func(ctx context.Context, req Request) (*Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Calls returns the number of Invoke calls observed so far.
func (m *MockPort) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Invoke implements Port.
func (m *MockPort) Invoke(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls++
	handler := m.handler
	var scripted func(req Request) (*Response, error)
	if handler == nil && len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler != nil {
		return handler(ctx, req)
	}
	if scripted != nil {
		return scripted(req)
	}

	prompt := lastUserMessage(req)

	m.mu.Lock()
	canned, ok := m.responses[prompt]
	m.mu.Unlock()

	if !ok {
		canned = fmt.Sprintf("Mock response to: %s", prompt)
	}
	return &Response{Text: canned}, nil
}

func lastUserMessage(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
