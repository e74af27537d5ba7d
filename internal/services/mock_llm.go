package services

import (
	"context"
	"errors"
	"sync"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// MockLLMAPI is a scriptable LLMClient for tests. Queued responses and
// errors are consumed in order; when the queue is empty GenerateFunc (or a
// fixed "{}" body) answers.
type MockLLMAPI struct {
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)
	Available    bool

	// Track calls for testing
	GenerateCalls []Request

	script []scripted
	mu     sync.Mutex // protects all fields above
}

type scripted struct {
	text string
	err  error
}

// NewMockLLMAPI creates a new mock LLM client
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		Available:     true,
		GenerateCalls: make([]Request, 0),
	}
}

func (m *MockLLMAPI) Name() string { return "mock-llm-api" }

func (m *MockLLMAPI) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Available
}

// QueueResponse appends a response body to the script.
func (m *MockLLMAPI) QueueResponse(text string) *MockLLMAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{text: text})
	return m
}

// QueueError appends a failure to the script.
func (m *MockLLMAPI) QueueError(err error) *MockLLMAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Generate mocks a model call
func (m *MockLLMAPI) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, req)
	var next *scripted
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	fn := m.GenerateFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, NewLLMError(err)
	}
	label := req.ModelLabel
	if label == "" {
		label = turn.ModelFast
	}
	if next != nil {
		if next.err != nil {
			return nil, NewLLMError(next.err)
		}
		return &Response{Text: next.text, ModelLabel: label, FinishReason: "STOP"}, nil
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return &Response{Text: "{}", ModelLabel: label, FinishReason: "STOP"}, nil
}

func (m *MockLLMAPI) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(resp.Text)
	}
	return resp, nil
}

// GetCalls returns a copy of the recorded requests
func (m *MockLLMAPI) GetCalls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.GenerateCalls...)
}

// Reset clears all call tracking and the script
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = make([]Request, 0)
	m.script = nil
}

// SetGenerateError sets up the mock to fail every call not covered by the script
func (m *MockLLMAPI) SetGenerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = func(ctx context.Context, req Request) (*Response, error) {
		return nil, NewLLMError(err)
	}
}

// ErrRateLimited is a canned 429 for tests.
var ErrRateLimited = &HTTPStatusError{StatusCode: 429, Body: "RESOURCE_EXHAUSTED"}

// ErrMockSafety is a canned safety stop for tests.
var ErrMockSafety = &LLMError{Kind: KindSafetyBlock, Err: errors.New("response stopped: SAFETY")}
