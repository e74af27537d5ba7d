package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/pkg/chat"
)

// CompatClient implements LLMClient for OpenAI-compatible chat completion
// APIs (Venice, OpenAI, Ollama's /v1).
type CompatClient struct {
	baseURL    string
	apiKey     string
	registry   *models.Registry
	httpClient *http.Client
	logger     *slog.Logger
}

var _ LLMClient = (*CompatClient)(nil)

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type compatResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *compatJSONSchema `json:"json_schema,omitempty"`
}

type compatChatRequest struct {
	Model          string                `json:"model"`
	Messages       []compatMessage       `json:"messages"`
	Temperature    float32               `json:"temperature,omitempty"`
	MaxTokens      int32                 `json:"max_tokens,omitempty"`
	Stream         bool                  `json:"stream"`
	ResponseFormat *compatResponseFormat `json:"response_format,omitempty"`
}

type compatChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func NewCompatClient(baseURL, apiKey string, registry *models.Registry, logger *slog.Logger) *CompatClient {
	return &CompatClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		registry: registry,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

func (c *CompatClient) Name() string { return "compat" }

func (c *CompatClient) IsAvailable() bool { return c.apiKey != "" && c.baseURL != "" }

func (c *CompatClient) buildMessages(req Request) []compatMessage {
	var msgs []compatMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, compatMessage{Role: "system", Content: req.SystemInstruction})
	}
	if len(req.Contents) == 0 {
		return append(msgs, compatMessage{Role: "user", Content: req.Prompt})
	}
	for _, m := range req.Contents {
		role := "user"
		if m.Role == chat.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, compatMessage{Role: role, Content: m.Text})
	}
	return msgs
}

func (c *CompatClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if !c.IsAvailable() {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("compat client not configured")}
	}
	if len(req.ReferenceImage) > 0 {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("compat client does not accept images")}
	}

	body := compatChatRequest{
		Model:       c.registry.ModelID(req.ModelLabel),
		Messages:    c.buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.ResponseSchema) > 0 {
		body.ResponseFormat = &compatResponseFormat{
			Type:       "json_schema",
			JSONSchema: &compatJSONSchema{Name: "turn_output", Strict: true, Schema: req.ResponseSchema},
		}
	} else if req.ResponseMIMEType == MIMEApplicationJSON {
		body.ResponseFormat = &compatResponseFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewLLMError(fmt.Errorf("failed to make request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(fmt.Errorf("failed to read response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewLLMError(&HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)})
	}

	var parsed compatChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewLLMError(fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != nil {
		return nil, NewLLMError(fmt.Errorf("API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, &LLMError{Kind: KindTransient, Err: errors.New("no choices in response")}
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return nil, &LLMError{Kind: KindSafetyBlock, Err: fmt.Errorf("response refused: %s", choice.FinishReason)}
	}

	c.logger.Debug("Compat call complete",
		"model", body.Model,
		"model_label", req.ModelLabel,
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens)

	return &Response{
		Text:         choice.Message.Content,
		ModelLabel:   req.ModelLabel,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// GenerateStream delivers the whole completion as a single chunk; structured
// output is not streamed by every compatible provider.
func (c *CompatClient) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(resp.Text)
	}
	return resp, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
