package services

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/unknown-world/internal/storage"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type stubPrompts struct{}

func (stubPrompts) Load(category prompts.Category, name string, lang turn.Language) (string, error) {
	return "find things", nil
}

func newStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	return store
}

func TestPlaceholderPNG(t *testing.T) {
	data, err := PlaceholderPNG("a dark corridor", "16:9")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 112, img.Bounds().Dx())
	assert.Equal(t, 63, img.Bounds().Dy())

	again, err := PlaceholderPNG("a dark corridor", "16:9")
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestMockImageGenerator(t *testing.T) {
	store := newStore(t)
	gen := NewMockImageGenerator(store)

	res, err := gen.Generate(context.Background(), ImageRequest{Prompt: "forest", AspectRatio: "1:1"})
	require.NoError(t, err)
	assert.Contains(t, res.URL, "/static/images/generated/")

	data, err := storage.ReadURL(context.Background(), store, res.URL)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)

	again, err := gen.Generate(context.Background(), ImageRequest{Prompt: "forest", AspectRatio: "1:1"})
	require.NoError(t, err)
	assert.Equal(t, res.URL, again.URL)
	assert.Equal(t, storage.ContentID(data), again.ID)

	other, err := gen.Generate(context.Background(), ImageRequest{Prompt: "desert", AspectRatio: "1:1"})
	require.NoError(t, err)
	assert.NotEqual(t, res.URL, other.URL)
}

func TestLLMVision_FromStore(t *testing.T) {
	store := newStore(t)
	img, err := PlaceholderPNG("scene", "1:1")
	require.NoError(t, err)
	asset, err := store.Save(context.Background(), storage.CategoryGenerated, "png", img)
	require.NoError(t, err)

	llm := NewMockLLMAPI().QueueResponse("```json\n" +
		`{"affordances":[{"label":"문","box_2d":{"ymin":10,"xmin":10,"ymax":300,"xmax":300},"interaction_hint":"연다","confidence":0.8}]}` +
		"\n```")
	vision := NewLLMVision(llm, stubPrompts{}, store, discardLogger())

	got, err := vision.DetectAffordances(context.Background(), VisionRequest{ImageURL: asset.URL, Language: turn.LanguageKO})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "문", got[0].Label)

	calls := llm.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, turn.ModelVision, calls[0].ModelLabel)
	assert.Equal(t, img, calls[0].ReferenceImage)
	assert.Equal(t, "image/png", calls[0].ReferenceImageMIME)
	assert.NotEmpty(t, calls[0].ResponseSchema)
}

func TestLLMVision_OverHTTP(t *testing.T) {
	img, err := PlaceholderPNG("remote", "1:1")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	llm := NewMockLLMAPI().QueueResponse(`{"affordances":[]}`)
	vision := NewLLMVision(llm, stubPrompts{}, nil, discardLogger())
	got, err := vision.DetectAffordances(context.Background(), VisionRequest{ImageURL: srv.URL + "/scene.png", Language: turn.LanguageEN})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLLMVision_Errors(t *testing.T) {
	vision := NewLLMVision(NewMockLLMAPI().QueueResponse(`{"affordances":[{"label":1}]}`), stubPrompts{}, newStore(t), discardLogger())

	_, err := vision.DetectAffordances(context.Background(), VisionRequest{ImageURL: "ftp://nope"})
	assert.Error(t, err)

	_, err = vision.DetectAffordances(context.Background(), VisionRequest{ImageURL: "/static/images/generated/missing.png"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestMockVision(t *testing.T) {
	m := &MockVision{}
	got, err := m.DetectAffordances(context.Background(), VisionRequest{ImageURL: "/static/a.png", Language: turn.LanguageEN})
	require.NoError(t, err)
	assert.Len(t, got, 4)
	for _, a := range got {
		assert.True(t, a.Box2D.Valid(), "box %+v", a.Box2D)
	}
	assert.Len(t, m.Calls, 1)
}
