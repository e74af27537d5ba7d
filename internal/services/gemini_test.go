package services

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func TestCollect(t *testing.T) {
	resps := []*genai.GenerateContentResponse{
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: `{"narr`},
		}}}}},
		{
			Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonStop,
				Content: &genai.Content{Parts: []*genai.Part{
					{Text: `ative":"x"}`, ThoughtSignature: []byte("sig")},
				}},
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3, TotalTokenCount: 10},
		},
	}

	out, err := collect(turn.ModelFast, resps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != `{"narrative":"x"}` {
		t.Errorf("unexpected text %q", out.Text)
	}
	if string(out.ThoughtSignature) != "sig" {
		t.Errorf("expected thought signature to be kept")
	}
	if out.Usage.TotalTokens != 10 || out.FinishReason != "STOP" {
		t.Errorf("unexpected usage/finish %+v %s", out.Usage, out.FinishReason)
	}
}

func TestCollect_Safety(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"finish safety", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}},
		{"prompt blocked", &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(turn.ModelFast, []*genai.GenerateContentResponse{tt.resp})
			if Classify(err) != KindSafetyBlock {
				t.Errorf("expected safety block, got %v", err)
			}
		})
	}
}

func TestCollect_Empty(t *testing.T) {
	_, err := collect(turn.ModelFast, []*genai.GenerateContentResponse{{}})
	if Classify(err) != KindTransient {
		t.Errorf("expected transient error for empty response, got %v", err)
	}
}

func TestBuildRequest(t *testing.T) {
	g := &GeminiClient{registry: testRegistry(), logger: discardLogger()}

	contents, cfg := g.buildRequest(Request{
		SystemInstruction: "system",
		Contents: []chat.Message{
			{Role: chat.RoleUser, Text: "a"},
			{Role: chat.RoleModel, Text: "b", ThoughtSignature: []byte("s")},
			{Role: chat.RoleUser, Text: "c"},
		},
		ResponseMIMEType:   MIMEApplicationJSON,
		ResponseSchema:     json.RawMessage(`{"type":"object"}`),
		ReferenceImage:     []byte{1, 2, 3},
		ReferenceImageMIME: "image/png",
	})

	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != genai.RoleModel || string(contents[1].Parts[0].ThoughtSignature) != "s" {
		t.Errorf("model message lost role or signature: %+v", contents[1])
	}
	if len(contents[2].Parts) != 2 || contents[2].Parts[1].InlineData == nil {
		t.Errorf("expected reference image on the last message")
	}
	if cfg.SystemInstruction == nil || cfg.ResponseJsonSchema == nil {
		t.Errorf("expected system instruction and schema on config")
	}
	if cfg.Temperature == nil || *cfg.Temperature != DefaultTemperature {
		t.Errorf("expected default temperature")
	}
	if cfg.MaxOutputTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", cfg.MaxOutputTokens)
	}

	contents, _ = g.buildRequest(Request{Prompt: "single"})
	if len(contents) != 1 || contents[0].Parts[0].Text != "single" || contents[0].Role != genai.RoleUser {
		t.Errorf("unexpected single prompt contents %+v", contents)
	}
}
