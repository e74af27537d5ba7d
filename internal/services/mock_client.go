package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwebster45206/unknown-world/internal/mockgen"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// MockClient serves turns from the deterministic mock generator. It is used
// when UW_MODE=mock or the real backend is unavailable.
type MockClient struct{}

var _ LLMClient = (*MockClient)(nil)

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) IsAvailable() bool { return true }

func (m *MockClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewLLMError(err)
	}
	if req.Input == nil {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("mock client requires the turn input")}
	}
	label := req.ModelLabel
	if label == "" {
		label = turn.ModelFast
	}
	out := mockgen.Generate(*req.Input, mockgen.SeedFor(*req.Input), label)
	data, err := turn.MarshalOutput(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mock output: %w", err)
	}
	return &Response{
		Text:         string(data),
		ModelLabel:   label,
		FinishReason: "STOP",
	}, nil
}

func (m *MockClient) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(resp.Text)
	}
	return resp, nil
}
