package services

import (
	"context"
	"encoding/json"

	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 8192

	MIMEApplicationJSON = "application/json"
)

// Request is one model call. Either Prompt or Contents is set; with Contents
// the system instruction travels separately.
type Request struct {
	Prompt            string
	Contents          []chat.Message
	SystemInstruction string

	ModelLabel       turn.ModelLabel
	Temperature      float32
	MaxTokens        int32
	ResponseMIMEType string
	ResponseSchema   json.RawMessage

	ReferenceImage     []byte
	ReferenceImageMIME string

	// Input is only read by the mock backend, which derives its output from
	// the turn rather than from prompt text.
	Input *turn.TurnInput
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Text             string
	ModelLabel       turn.ModelLabel
	Usage            Usage
	FinishReason     string
	ThoughtSignature []byte
}

// LLMClient is the unified interface over the real and mock backends.
type LLMClient interface {
	Name() string

	// IsAvailable is false when the backend cannot serve requests, for
	// example when credentials are missing.
	IsAvailable() bool

	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream calls onChunk with each text fragment as it arrives and
	// returns the assembled response. Reserved: the turn pipeline only uses
	// Generate, since fragments are unvalidated JSON and no narrative_delta
	// events are sent.
	GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error)
}
