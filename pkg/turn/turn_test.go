package turn

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOutput() TurnOutput {
	o := TurnOutput{
		Language:  LanguageKO,
		Narrative: "문이 삐걱이며 열린다.",
		UI: UIOutput{ActionDeck: ActionDeck{Cards: []ActionCard{
			{ID: "look", Label: "둘러본다", Cost: CurrencyAmount{Signal: 1}, Risk: RiskLow, Enabled: true},
		}}},
		Economy: EconomyOutput{
			Cost:         CurrencyAmount{Signal: 1},
			BalanceAfter: CurrencyAmount{Signal: 99, MemoryShard: 5},
		},
		Render: RenderOutput{ImageJob: &ImageJob{Prompt: "a creaking door", AspectRatio: "16:9"}},
		AgentConsole: AgentConsole{
			CurrentPhase: PhaseCommit,
			Badges:       AllOKBadges(),
			ModelLabel:   ModelFast,
		},
	}
	o.Normalize()
	return o
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"ko-KR", LanguageKO, false},
		{"ko", LanguageKO, false},
		{"en-US", LanguageEN, false},
		{"en-GB", LanguageEN, false},
		{"EN", LanguageEN, false},
		{"ja-JP", "", true},
		{"", "", true},
		{"klingon!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLanguage) {
					t.Errorf("expected ErrUnknownLanguage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind InputKind
		wantErr  bool
	}{
		{"text default", `{"language":"ko-KR","text":"문을 열어본다","economy_snapshot":{"signal":100,"memory_shard":5}}`, InputText, false},
		{"click inferred", `{"language":"en-US","text":"","click":{"x":10,"y":20},"economy_snapshot":{"signal":1,"memory_shard":0}}`, InputClick, false},
		{"drop explicit", `{"language":"en","input_kind":"drop","drop":{"item_id":"key"},"economy_snapshot":{"signal":1,"memory_shard":0}}`, InputDrop, false},
		{"malformed", `{"language":`, "", true},
		{"unknown language", `{"language":"fr-FR","text":"x","economy_snapshot":{"signal":1,"memory_shard":0}}`, "", true},
		{"missing language", `{"text":"x","economy_snapshot":{"signal":1,"memory_shard":0}}`, "", true},
		{"negative economy", `{"language":"ko-KR","economy_snapshot":{"signal":-1,"memory_shard":0}}`, "", true},
		{"click without payload", `{"language":"ko-KR","input_kind":"click","economy_snapshot":{"signal":1,"memory_shard":0}}`, "", true},
		{"click out of range", `{"language":"ko-KR","click":{"x":1001,"y":0},"economy_snapshot":{"signal":1,"memory_shard":0}}`, "", true},
		{"unknown kind", `{"language":"ko-KR","input_kind":"voice","economy_snapshot":{"signal":1,"memory_shard":0}}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInput([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, in.InputKind)
		})
	}
}

func TestUtterance(t *testing.T) {
	in := TurnInput{InputKind: InputDrop, Drop: &DropInput{ItemID: "key", TargetObjectID: "door"}}
	if got := in.Utterance(); got != "[drop item=key onto door]" {
		t.Errorf("unexpected utterance %q", got)
	}
	in = TurnInput{InputKind: InputText, Text: " hello "}
	if got := in.Utterance(); got != "hello" {
		t.Errorf("unexpected utterance %q", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```":                          `{"a":1}`,
		"```\n{\"a\":1}\n```":                              `{"a":1}`,
		"  {\"a\":1}  ":                                    `{"a":1}`,
		"```json{\"a\":1}```":                              `{"a":1}`,
		"Here it is:\n```json\n{\"a\":1}\n```\nEnjoy.":     `{"a":1}`,
		"```json\n{\"a\":1}\n```\n```json\n{\"b\":2}\n```": `{"a":1}`,
		"```json\n{\"a\":1}":                               `{"a":1}`,
		"{\"narrative\":\"a ``` b\"}":                      "{\"narrative\":\"a ``` b\"}",
	}
	for in, want := range tests {
		if got := StripCodeFences(in); got != want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutputSchema(t *testing.T) {
	s := string(OutputSchemaJSON())
	assert.NotContains(t, s, "$ref")
	assert.Contains(t, s, `"additionalProperties":false`)
	assert.Contains(t, s, `"enum":["ko-KR","en-US"]`)
	assert.Contains(t, s, `"enum":["low","medium","high"]`)
	assert.Less(t, strings.Index(s, `"language"`), strings.Index(s, `"narrative"`))

	sch := OutputSchema()
	assert.Equal(t, []string{"language", "narrative", "ui", "economy", "safety"}, sch.Root().Required)
	assert.Equal(t, "1000", string(sch.Lookup("ui.objects.box_2d.xmax").Maximum))
	assert.EqualValues(t, MaxActionCards, *sch.Lookup("ui.action_deck.cards").MaxItems)
	assert.Equal(t, strconv.Itoa(MaxCredit), string(sch.Lookup("economy.credit").Maximum))
	assert.NotContains(t, sch.Lookup("economy").Required, "credit")
}

func TestParseOutput(t *testing.T) {
	valid, err := MarshalOutput(sampleOutput())
	require.NoError(t, err)

	t.Run("valid round trip", func(t *testing.T) {
		got, errs := ParseOutput(valid)
		require.Empty(t, errs)
		if diff := cmp.Diff(sampleOutput(), got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing narrative", func(t *testing.T) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(valid, &m))
		delete(m, "narrative")
		raw, _ := json.Marshal(m)
		_, errs := ParseOutput(raw)
		require.NotEmpty(t, errs)
		assert.Equal(t, "narrative", errs[0].Location)
		assert.Equal(t, "missing", errs[0].Type)
	})

	t.Run("unknown nested field", func(t *testing.T) {
		raw := strings.Replace(string(valid), `"blocked":false`, `"blocked":false,"reason":"x"`, 1)
		_, errs := ParseOutput([]byte(raw))
		require.Len(t, errs, 1)
		assert.Equal(t, "safety.reason", errs[0].Location)
	})

	t.Run("minimal output gets defaults", func(t *testing.T) {
		raw := `{"language":"en-US","narrative":"ok","ui":{"action_deck":{"cards":[]}},
			"economy":{"cost":{"signal":0,"memory_shard":0},"balance_after":{"signal":3,"memory_shard":0}},
			"safety":{"blocked":false}}`
		got, errs := ParseOutput([]byte(raw))
		require.Empty(t, errs)
		assert.NotNil(t, got.World.InventoryAdded)
		assert.NotNil(t, got.UI.Objects)
		assert.Equal(t, ModelFast, got.AgentConsole.ModelLabel)
	})
}

func TestBox2D_Corrected(t *testing.T) {
	tests := []struct {
		name      string
		in        Box2D
		want      Box2D
		unchanged bool
	}{
		{"valid", Box2D{10, 10, 200, 200}, Box2D{10, 10, 200, 200}, true},
		{"out of range", Box2D{-5, 0, 1200, 300}, Box2D{0, 0, 1000, 300}, false},
		{"degenerate", Box2D{400, 400, 400, 400}, Box2D{400, 400, 500, 500}, false},
		{"inverted", Box2D{500, 10, 100, 20}, Box2D{100, 10, 500, 20}, false},
		{"degenerate at edge", Box2D{1000, 0, 1000, 50}, Box2D{900, 0, 1000, 50}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unchanged := tt.in.Corrected()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unchanged, unchanged)
			assert.True(t, got.Valid())
		})
	}
}

func TestFilterHotspots(t *testing.T) {
	objs := []SceneObject{
		{ID: "a", Box2D: Box2D{0, 0, 300, 300}},     // area 90000, center (150,150)
		{ID: "a2", Box2D: Box2D{20, 20, 300, 300}},  // overlaps a
		{ID: "b", Box2D: Box2D{0, 600, 250, 850}},   // area 62500, center (125,725)
		{ID: "b2", Box2D: Box2D{10, 610, 250, 850}}, // overlaps b
		{ID: "c", Box2D: Box2D{600, 600, 800, 800}}, // area 40000, center (700,700)
		{ID: "d", Box2D: Box2D{700, 0, 800, 100}},   // small
	}

	got := FilterHotspots(objs, HotspotMinDistance, HotspotMaxCount)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})

	for i := range got {
		if i > 0 && got[i].Box2D.Area() > got[i-1].Box2D.Area() {
			t.Errorf("area ordering broken at %d", i)
		}
		for j := i + 1; j < len(got); j++ {
			if d := centerDistance(got[i].Box2D, got[j].Box2D); d < HotspotMinDistance {
				t.Errorf("centers %s/%s only %.1f apart", got[i].ID, got[j].ID, d)
			}
		}
	}
}

func TestFilterHotspots_Empty(t *testing.T) {
	got := FilterHotspots(nil, HotspotMinDistance, HotspotMaxCount)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if d := centerDistance(Box2D{0, 0, 100, 100}, Box2D{0, 0, 100, 100}); d != 0 || math.IsNaN(d) {
		t.Errorf("expected zero distance, got %v", d)
	}
}
