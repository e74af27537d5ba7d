package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jwebster45206/unknown-world/internal/storage"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/schema"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const maxVisionImageBytes = 20 << 20

// PromptSource loads prompt bodies. *prompts.Loader satisfies it.
type PromptSource interface {
	Load(category prompts.Category, name string, lang turn.Language) (string, error)
}

// Affordance is one interactive region detected in a scene image.
type Affordance struct {
	Label           string     `json:"label" jsonschema:"required"`
	Box2D           turn.Box2D `json:"box_2d" jsonschema:"required"`
	InteractionHint string     `json:"interaction_hint,omitempty"`
	Confidence      float64    `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type VisionRequest struct {
	ImageURL string
	Language turn.Language
}

// VisionService detects affordances in a scene image.
type VisionService interface {
	DetectAffordances(ctx context.Context, req VisionRequest) ([]Affordance, error)
}

type affordanceList struct {
	Affordances []Affordance `json:"affordances" jsonschema:"required,maxItems=8"`
}

var (
	affordanceSchemaOnce sync.Once
	affordanceSchema     *schema.Schema
)

func loadAffordanceSchema() {
	affordanceSchema = schema.MustGenerate(affordanceList{})
}

// LLMVision asks a multimodal model to find affordances.
type LLMVision struct {
	client     LLMClient
	prompts    PromptSource
	store      storage.AssetStore
	httpClient *http.Client
	logger     *slog.Logger
}

var _ VisionService = (*LLMVision)(nil)

func NewLLMVision(client LLMClient, prompts PromptSource, store storage.AssetStore, logger *slog.Logger) *LLMVision {
	return &LLMVision{
		client:     client,
		prompts:    prompts,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (v *LLMVision) DetectAffordances(ctx context.Context, req VisionRequest) ([]Affordance, error) {
	affordanceSchemaOnce.Do(loadAffordanceSchema)

	image, mimeType, err := v.fetchImage(ctx, req.ImageURL)
	if err != nil {
		return nil, err
	}
	prompt, err := v.prompts.Load(prompts.CategoryScan, prompts.NameSceneAffordances, req.Language)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan prompt: %w", err)
	}

	resp, err := v.client.Generate(ctx, Request{
		Prompt:             prompt,
		ModelLabel:         turn.ModelVision,
		Temperature:        0.2,
		ResponseMIMEType:   MIMEApplicationJSON,
		ResponseSchema:     affordanceSchema.JSON(),
		ReferenceImage:     image,
		ReferenceImageMIME: mimeType,
	})
	if err != nil {
		return nil, err
	}

	raw := []byte(turn.StripCodeFences(resp.Text))
	if errs := affordanceSchema.Validate(raw); len(errs) > 0 {
		return nil, fmt.Errorf("invalid affordance response: %s", errs[0])
	}
	var list affordanceList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode affordances: %w", err)
	}
	v.logger.Debug("Affordances detected", "count", len(list.Affordances), "image_bytes", len(image))
	return list.Affordances, nil
}

func (v *LLMVision) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	if strings.HasPrefix(url, storage.StaticPrefix) {
		if v.store == nil {
			return nil, "", errors.New("no asset store configured")
		}
		data, err := storage.ReadURL(ctx, v.store, url)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read scene image: %w", err)
		}
		return data, storage.MIMEForName(url), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, "", fmt.Errorf("unsupported image url %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch scene image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch scene image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVisionImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read scene image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// MockVision returns a fixed set of affordances. When Affordances is nil a
// deterministic set derived from the image url is returned.
type MockVision struct {
	Affordances []Affordance
	Err         error

	mu    sync.Mutex
	Calls []VisionRequest
}

var _ VisionService = (*MockVision)(nil)

func (m *MockVision) DetectAffordances(ctx context.Context, req VisionRequest) ([]Affordance, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Affordances != nil {
		return append([]Affordance(nil), m.Affordances...), nil
	}
	return mockAffordances(req), nil
}

func mockAffordances(req VisionRequest) []Affordance {
	labels := []string{"낡은 문", "책상", "상자", "창문"}
	hints := []string{"열어 본다", "살펴본다", "열어 본다", "밖을 내다본다"}
	if req.Language == turn.LanguageEN {
		labels = []string{"Old door", "Desk", "Crate", "Window"}
		hints = []string{"open", "examine", "open", "look outside"}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.ImageURL))
	shift := int(h.Sum32() % 100)

	out := make([]Affordance, len(labels))
	for i := range labels {
		y := 100 + (i/2)*450 + shift
		x := 100 + (i%2)*450 + shift
		out[i] = Affordance{
			Label:           labels[i],
			Box2D:           turn.Box2D{Ymin: y, Xmin: x, Ymax: y + 300 - i*20, Xmax: x + 300 - i*20},
			InteractionHint: hints[i],
			Confidence:      0.9 - float64(i)*0.1,
		}
	}
	return out
}
