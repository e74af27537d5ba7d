package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// GeminiClient implements LLMClient over the genai SDK.
type GeminiClient struct {
	client   *genai.Client
	registry *models.Registry
	logger   *slog.Logger
}

var _ LLMClient = (*GeminiClient)(nil)

// NewGeminiClient returns an unavailable client when apiKey is empty so the
// caller can fall back to the mock.
func NewGeminiClient(ctx context.Context, apiKey string, registry *models.Registry, logger *slog.Logger) (*GeminiClient, error) {
	g := &GeminiClient{registry: registry, logger: logger}
	if apiKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) IsAvailable() bool { return g.client != nil }

func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if !g.IsAvailable() {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("gemini client not configured")}
	}
	model := g.registry.ModelID(req.ModelLabel)
	contents, cfg := g.buildRequest(req)

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, NewLLMError(err)
	}
	out, err := collect(req.ModelLabel, []*genai.GenerateContentResponse{resp})
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Gemini call complete",
		"model", model,
		"model_label", req.ModelLabel,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"finish_reason", out.FinishReason)
	return out, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	if !g.IsAvailable() {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("gemini client not configured")}
	}
	model := g.registry.ModelID(req.ModelLabel)
	contents, cfg := g.buildRequest(req)

	var chunks []*genai.GenerateContentResponse
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, NewLLMError(err)
		}
		if onChunk != nil {
			if text := responseText(resp); text != "" {
				onChunk(text)
			}
		}
		chunks = append(chunks, resp)
	}
	return collect(req.ModelLabel, chunks)
}

func (g *GeminiClient) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	if len(req.Contents) > 0 {
		for _, m := range req.Contents {
			part := &genai.Part{Text: m.Text, ThoughtSignature: m.ThoughtSignature}
			contents = append(contents, &genai.Content{Role: toGenaiRole(m.Role), Parts: []*genai.Part{part}})
		}
	} else {
		contents = []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	}
	if len(req.ReferenceImage) > 0 {
		last := contents[len(contents)-1]
		last.Parts = append(last.Parts, genai.NewPartFromBytes(req.ReferenceImage, req.ReferenceImageMIME))
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: req.ResponseMIMEType,
	}
	if len(req.ResponseSchema) > 0 {
		cfg.ResponseJsonSchema = req.ResponseSchema
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return contents, cfg
}

// collect merges one or more (streamed) responses into a Response. Safety
// stops become SAFETY_BLOCK errors.
func collect(label turn.ModelLabel, resps []*genai.GenerateContentResponse) (*Response, error) {
	out := &Response{ModelLabel: label}
	var text strings.Builder
	for _, resp := range resps {
		if resp == nil {
			continue
		}
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return nil, &LLMError{Kind: KindSafetyBlock, Err: fmt.Errorf("prompt blocked: %s", fb.BlockReason)}
		}
		if u := resp.UsageMetadata; u != nil {
			out.Usage = Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			out.FinishReason = string(cand.FinishReason)
		}
		if isSafetyFinish(cand.FinishReason) {
			return nil, &LLMError{Kind: KindSafetyBlock, Err: fmt.Errorf("response stopped: %s", cand.FinishReason)}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if len(part.ThoughtSignature) > 0 {
				out.ThoughtSignature = part.ThoughtSignature
			}
			if part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
	}
	out.Text = text.String()
	if out.Text == "" {
		return nil, &LLMError{Kind: KindTransient, Err: errors.New("empty response")}
	}
	return out, nil
}

func isSafetyFinish(reason genai.FinishReason) bool {
	switch reason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonImageSafety:
		return true
	}
	return false
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func toGenaiRole(role string) string {
	if role == chat.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}
