package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/jwebster45206/unknown-world/internal/storage"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type ImageRequest struct {
	Prompt            string
	AspectRatio       string
	Size              string
	ReferenceImageURL string
	Language          turn.Language
}

type ImageResult struct {
	URL               string
	ID                string
	GenerationTimeMS  int
	BackgroundRemoved bool
}

// ImageGenerator renders a scene image and stores it.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// GeminiImageGenerator uses the IMAGE-tier model and saves the returned
// bytes under images/generated.
type GeminiImageGenerator struct {
	gemini *GeminiClient
	store  storage.AssetStore
	logger *slog.Logger
}

var _ ImageGenerator = (*GeminiImageGenerator)(nil)

func NewGeminiImageGenerator(gemini *GeminiClient, store storage.AssetStore, logger *slog.Logger) *GeminiImageGenerator {
	return &GeminiImageGenerator{gemini: gemini, store: store, logger: logger}
}

func (g *GeminiImageGenerator) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if !g.gemini.IsAvailable() {
		return nil, &LLMError{Kind: KindPermanent, Err: errors.New("gemini client not configured")}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("image prompt is empty")
	}
	start := time.Now()

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.ReferenceImageURL != "" {
		ref, err := storage.ReadURL(ctx, g.store, req.ReferenceImageURL)
		if err != nil {
			g.logger.Warn("Reference image unavailable", "error", err)
		} else {
			parts = append(parts, genai.NewPartFromBytes(ref, storage.MIMEForName(req.ReferenceImageURL)))
		}
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	}
	if req.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: req.AspectRatio}
	}

	model := g.gemini.registry.ModelID(turn.ModelImage)
	resp, err := g.gemini.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, NewLLMError(err)
	}
	data, mimeType, err := inlineImage(resp)
	if err != nil {
		return nil, err
	}

	asset, err := g.store.Save(ctx, storage.CategoryGenerated, storage.ExtForMIME(mimeType), data)
	if err != nil {
		return nil, fmt.Errorf("failed to store generated image: %w", err)
	}
	elapsed := int(time.Since(start).Milliseconds())
	g.logger.Info("Image generated", "image_id", asset.ID, "bytes", len(data), "generation_time_ms", elapsed)
	return &ImageResult{URL: asset.URL, ID: asset.ID, GenerationTimeMS: elapsed}, nil
}

func inlineImage(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil {
		return nil, "", &LLMError{Kind: KindTransient, Err: errors.New("empty image response")}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, "", &LLMError{Kind: KindSafetyBlock, Err: fmt.Errorf("image prompt blocked: %s", fb.BlockReason)}
	}
	for _, cand := range resp.Candidates {
		if isSafetyFinish(cand.FinishReason) {
			return nil, "", &LLMError{Kind: KindSafetyBlock, Err: fmt.Errorf("image stopped: %s", cand.FinishReason)}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType, nil
			}
		}
	}
	return nil, "", &LLMError{Kind: KindTransient, Err: errors.New("no image in response")}
}

// MockImageGenerator stores a small placeholder PNG whose colour is derived
// from the prompt. The asset is named after its bytes, so the same prompt
// and aspect ratio always yield the same URL.
type MockImageGenerator struct {
	store storage.AssetStore
}

var _ ImageGenerator = (*MockImageGenerator)(nil)

func NewMockImageGenerator(store storage.AssetStore) *MockImageGenerator {
	return &MockImageGenerator{store: store}
}

func (m *MockImageGenerator) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := PlaceholderPNG(req.Prompt, req.AspectRatio)
	if err != nil {
		return nil, err
	}
	asset, err := m.store.Save(ctx, storage.CategoryGenerated, "png", data, storage.WithContentID())
	if err != nil {
		return nil, fmt.Errorf("failed to store placeholder image: %w", err)
	}
	return &ImageResult{URL: asset.URL, ID: asset.ID}, nil
}

// PlaceholderPNG renders a flat gradient sized for the aspect ratio.
func PlaceholderPNG(prompt, aspectRatio string) ([]byte, error) {
	w, h := 64, 64
	switch aspectRatio {
	case "16:9":
		w, h = 112, 63
	case "9:16":
		w, h = 63, 112
	case "4:3":
		w, h = 96, 72
	case "3:4":
		w, h = 72, 96
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(prompt))
	sum := hash.Sum32()
	base := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		shade := uint8(y * 255 / h / 3)
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: base.R / 2, G: base.G / 2, B: base.B/2 + shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
