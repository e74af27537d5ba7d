package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type stubPrompts struct{ fail bool }

func (s stubPrompts) Load(category prompts.Category, name string, lang turn.Language) (string, error) {
	if s.fail {
		return "", prompts.ErrPromptNotFound
	}
	return "PROMPT " + string(category) + "/" + name, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *models.Registry {
	return models.NewRegistry(map[turn.ModelLabel]string{
		turn.ModelFast:    "fast-model",
		turn.ModelQuality: "quality-model",
		turn.ModelVision:  "vision-model",
	}, models.DefaultLexicon)
}

func koInput(text string) turn.TurnInput {
	return turn.TurnInput{
		Language:        turn.LanguageKO,
		InputKind:       turn.InputText,
		Text:            text,
		EconomySnapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
	}
}

func goodOutput(narrative string) turn.TurnOutput {
	out := turn.TurnOutput{
		Language:  turn.LanguageKO,
		Narrative: narrative,
		UI: turn.UIOutput{ActionDeck: turn.ActionDeck{Cards: []turn.ActionCard{
			{ID: "look", Label: "주변을 살핀다", Cost: turn.CurrencyAmount{Signal: 1}, Risk: turn.RiskLow, Enabled: true},
		}}},
		Economy: turn.EconomyOutput{
			Cost:         turn.CurrencyAmount{Signal: 3},
			BalanceAfter: turn.CurrencyAmount{Signal: 97, MemoryShard: 5},
		},
	}
	out.Normalize()
	return out
}

func goodJSON(t *testing.T, narrative string) string {
	t.Helper()
	b, err := turn.MarshalOutput(goodOutput(narrative))
	require.NoError(t, err)
	return string(b)
}

const missingNarrative = `{"language":"ko-KR","ui":{"action_deck":{"cards":[]}},"economy":{"cost":{"signal":0,"memory_shard":0},"balance_after":{"signal":100,"memory_shard":5}},"safety":{"blocked":false}}`

func newLoop(llm services.LLMClient) *RepairLoop {
	gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())
	return NewRepairLoop(gen, validation.New(turn.MaxCredit, nil), MaxRepairAttempts, nil, discardLogger())
}

func TestGenerator_PromptAndSchema(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueResponse(goodJSON(t, "문이 열린다."))
	gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())

	in := koInput("문을 열어본다")
	in.SceneImageURL = "/static/images/generated/scene.png"
	res := gen.Generate(context.Background(), in, GenerateOptions{})

	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "/static/images/generated/scene.png", res.Output.Render.ImageURL)
	assert.Equal(t, turn.ModelFast, res.ModelLabel)
	assert.Equal(t, models.MultiplierFast, res.Multiplier)

	calls := llm.GetCalls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Empty(t, req.Contents)
	assert.Contains(t, req.Prompt, "PROMPT system/game_master")
	assert.Contains(t, req.Prompt, "문을 열어본다")
	assert.Contains(t, req.Prompt, "signal=100")
	assert.Equal(t, services.MIMEApplicationJSON, req.ResponseMIMEType)
	assert.JSONEq(t, string(turn.OutputSchemaJSON()), string(req.ResponseSchema))
	require.NotNil(t, req.Input)
	assert.Equal(t, in.Text, req.Input.Text)
}

func TestGenerator_History(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueResponse("```json\n" + goodJSON(t, "다시 문 앞이다.") + "\n```")
	gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())

	history := chat.Exchange{User: "이전 행동", Model: `{"narrative":"이전"}`, ThoughtSignature: []byte("sig")}.Messages()
	res := gen.Generate(context.Background(), koInput("문을 두드린다"), GenerateOptions{History: history})
	require.Equal(t, StatusSuccess, res.Status, "%v", res.SchemaErrors)

	req := llm.GetCalls()[0]
	assert.Empty(t, req.Prompt)
	assert.Contains(t, req.SystemInstruction, "PROMPT turn/turn_instructions")
	require.Len(t, req.Contents, 3)
	assert.Equal(t, []byte("sig"), req.Contents[1].ThoughtSignature)
	assert.Equal(t, chat.RoleUser, req.Contents[2].Role)
	assert.Contains(t, req.Contents[2].Text, "문을 두드린다")
}

func TestGenerator_Statuses(t *testing.T) {
	blocked := goodOutput("이 행동은 허용되지 않습니다.")
	blocked.Safety.Blocked = true
	blocked.UI.ActionDeck.Cards = []turn.ActionCard{}
	blockedJSON, _ := turn.MarshalOutput(blocked)

	tests := []struct {
		name   string
		queue  func(*services.MockLLMAPI)
		text   string
		status Status
		kind   services.ErrorKind
		label  turn.ModelLabel
	}{
		{
			name:   "schema failure",
			queue:  func(m *services.MockLLMAPI) { m.QueueResponse(missingNarrative) },
			text:   "문을 열어본다",
			status: StatusSchemaFailure,
			label:  turn.ModelFast,
		},
		{
			name:   "not json",
			queue:  func(m *services.MockLLMAPI) { m.QueueResponse("I cannot do that") },
			text:   "문을 열어본다",
			status: StatusSchemaFailure,
			label:  turn.ModelFast,
		},
		{
			name:   "rate limited on quality",
			queue:  func(m *services.MockLLMAPI) { m.QueueError(services.ErrRateLimited) },
			text:   "책상을 자세히 조사한다",
			status: StatusAPIError,
			kind:   services.KindRateLimit,
			label:  turn.ModelQuality,
		},
		{
			name:   "provider safety stop",
			queue:  func(m *services.MockLLMAPI) { m.QueueError(services.ErrMockSafety) },
			text:   "문을 열어본다",
			status: StatusSafetyBlocked,
			kind:   services.KindSafetyBlock,
			label:  turn.ModelFast,
		},
		{
			name:   "output marked blocked",
			queue:  func(m *services.MockLLMAPI) { m.QueueResponse(string(blockedJSON)) },
			text:   "문을 열어본다",
			status: StatusSafetyBlocked,
			label:  turn.ModelFast,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := services.NewMockLLMAPI()
			tt.queue(llm)
			gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())
			res := gen.Generate(context.Background(), koInput(tt.text), GenerateOptions{})
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, tt.label, res.ModelLabel)
			if tt.status == StatusSchemaFailure {
				assert.NotEmpty(t, res.SchemaErrors)
			}
		})
	}
}

func TestGenerator_MissingPrompt(t *testing.T) {
	gen := NewGenerator(services.NewMockLLMAPI(), stubPrompts{fail: true}, testRegistry(), discardLogger())
	res := gen.Generate(context.Background(), koInput("문"), GenerateOptions{})
	assert.Equal(t, StatusAPIError, res.Status)
	assert.Equal(t, services.KindPermanent, res.ErrorKind)
	assert.ErrorIs(t, res.Err, prompts.ErrPromptNotFound)
}

func TestGenerator_LabelOverride(t *testing.T) {
	llm := services.NewMockLLMAPI()
	gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())
	res := gen.Generate(context.Background(), koInput("자세히 조사한다"), GenerateOptions{Label: turn.ModelFast})
	assert.Equal(t, turn.ModelFast, res.ModelLabel)
	assert.Equal(t, models.MultiplierFast, res.Multiplier)
	assert.Equal(t, turn.ModelFast, llm.GetCalls()[0].ModelLabel)
}

func TestRepairLoop_SchemaThenSuccess(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueResponse(missingNarrative).QueueResponse(goodJSON(t, "문이 열린다."))

	var events []RepairEvent
	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, func(e RepairEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, validation.CategorySchema, events[0].Category)
	assert.False(t, out.IsFallback)
	assert.Equal(t, 1, out.RepairCount)
	assert.Equal(t, 1, out.Output.AgentConsole.RepairCount)
	assert.Equal(t, turn.AllOKBadges(), out.Badges)
	assert.NotEmpty(t, out.ModelText)

	calls := llm.GetCalls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0].Prompt, prompts.RepairPreamble)
	assert.Contains(t, calls[1].Prompt, prompts.RepairPreamble)
	assert.Contains(t, calls[1].Prompt, "narrative")
	assert.NotContains(t, calls[1].Prompt, missingNarrative)
}

func TestRepairLoop_LanguageMixing(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueResponse(goodJSON(t, "한국어와 English 혼합")).QueueResponse(goodJSON(t, "한국어로만 쓴 문장"))

	var events []RepairEvent
	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, func(e RepairEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "언어 혼합이 감지되었습니다")
	assert.Contains(t, out.Badges, turn.BadgeConsistencyOK)
	assert.Contains(t, llm.GetCalls()[1].Prompt, "LANGUAGE_CONTENT_MIXED")
}

func TestRepairLoop_RateLimitExhaustion(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.SetGenerateError(services.ErrRateLimited)

	var attempts []int
	out, err := newLoop(llm).Run(context.Background(), koInput("책상을 자세히 조사한다"), nil, func(e RepairEvent) {
		attempts = append(attempts, e.Attempt)
	})
	require.NoError(t, err)

	assert.True(t, out.IsFallback)
	assert.True(t, out.IsRateLimited)
	assert.Equal(t, []int{1, 2}, attempts)

	var labels []turn.ModelLabel
	for _, c := range llm.GetCalls() {
		labels = append(labels, c.ModelLabel)
	}
	if diff := cmp.Diff([]turn.ModelLabel{turn.ModelQuality, turn.ModelQuality, turn.ModelFast}, labels); diff != "" {
		t.Errorf("tier sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRepairLoop_SafetyBlock(t *testing.T) {
	blocked := goodOutput("그 행동은 허용되지 않습니다.")
	blocked.Safety.Blocked = true
	blocked.UI.ActionDeck.Cards = []turn.ActionCard{}
	data, _ := turn.MarshalOutput(blocked)

	llm := services.NewMockLLMAPI()
	llm.QueueResponse(string(data))

	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, nil)
	require.NoError(t, err)
	assert.True(t, out.IsFallback)
	assert.Equal(t, 0, out.RepairCount)
	assert.Equal(t, []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyOK, turn.BadgeSafetyBlocked}, out.Badges)
	assert.True(t, out.Output.Safety.Blocked)
	assert.Empty(t, out.Output.UI.ActionDeck.Cards)
	assert.Len(t, llm.GetCalls(), 1)
}

func TestRepairLoop_ExhaustedSchema(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.GenerateFunc = func(ctx context.Context, req services.Request) (*services.Response, error) {
		return &services.Response{Text: missingNarrative}, nil
	}
	var events int
	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, func(RepairEvent) { events++ })
	require.NoError(t, err)
	assert.True(t, out.IsFallback)
	assert.False(t, out.IsRateLimited)
	assert.Equal(t, MaxRepairAttempts, out.RepairCount)
	assert.Equal(t, MaxRepairAttempts, events)
	assert.Contains(t, out.Badges, turn.BadgeSchemaFail)
	assert.Equal(t, out.Badges, out.Output.AgentConsole.Badges)
	assert.Equal(t, koInput("").EconomySnapshot, out.Output.Economy.BalanceAfter)
}

func TestRepairLoop_EconomyFailureBadges(t *testing.T) {
	bad := goodOutput("문이 열린다.")
	bad.Economy.BalanceAfter.Signal = 50
	data, _ := turn.MarshalOutput(bad)
	llm := services.NewMockLLMAPI()
	llm.GenerateFunc = func(ctx context.Context, req services.Request) (*services.Response, error) {
		return &services.Response{Text: string(data)}, nil
	}
	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, nil)
	require.NoError(t, err)
	assert.True(t, out.IsFallback)
	assert.Equal(t, []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyFail, turn.BadgeSafetyOK, turn.BadgeConsistencyOK}, out.Badges)
	assert.Contains(t, llm.GetCalls()[1].Prompt, "ECONOMY_BALANCE_MISMATCH")
}

func TestRepairLoop_PermanentError(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueError(&services.HTTPStatusError{StatusCode: 401, Body: "unauthenticated"})
	out, err := newLoop(llm).Run(context.Background(), koInput("문을 열어본다"), nil, nil)
	require.NoError(t, err)
	assert.True(t, out.IsFallback)
	assert.False(t, out.IsRateLimited)
	assert.Len(t, llm.GetCalls(), 1)
}

func TestRepairLoop_CancelDuringBackoff(t *testing.T) {
	llm := services.NewMockLLMAPI()
	llm.QueueResponse(missingNarrative)
	gen := NewGenerator(llm, stubPrompts{}, testRegistry(), discardLogger())
	loop := NewRepairLoop(gen, validation.New(0, nil), MaxRepairAttempts, []time.Duration{time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := loop.Run(ctx, koInput("문을 열어본다"), nil, func(RepairEvent) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assert.Len(t, llm.GetCalls(), 1)
}

func TestRepairLoop_MockClient(t *testing.T) {
	gen := NewGenerator(services.NewMockClient(), stubPrompts{}, testRegistry(), discardLogger())
	loop := NewRepairLoop(gen, validation.New(0, nil), MaxRepairAttempts, nil, discardLogger())
	seed := int64(12345)
	in := koInput("문을 열어본다")
	in.Seed = &seed

	a, err := loop.Run(context.Background(), in, nil, nil)
	require.NoError(t, err)
	b, err := loop.Run(context.Background(), in, nil, nil)
	require.NoError(t, err)

	assert.False(t, a.IsFallback)
	assert.Equal(t, 0, a.RepairCount)
	assert.Equal(t, a.ModelText, b.ModelText)
}

func TestFallback_PassesRules(t *testing.T) {
	v := validation.New(0, nil)
	for _, lang := range []turn.Language{turn.LanguageKO, turn.LanguageEN} {
		for _, build := range []func(turn.Language, turn.CurrencyAmount, int) turn.TurnOutput{Fallback, SafetyFallback} {
			snapshot := turn.CurrencyAmount{Signal: 4, MemoryShard: 2}
			out := build(lang, snapshot, 2)

			data, err := turn.MarshalOutput(out)
			require.NoError(t, err)
			parsed, errs := turn.ParseOutput(data)
			require.Empty(t, errs)
			if diff := cmp.Diff(out, parsed); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			in := turn.TurnInput{Language: lang, EconomySnapshot: snapshot}
			res := v.Validate(&out, in)
			assert.True(t, res.IsValid, "%s: %v", lang, res.Errors)
			assert.Equal(t, snapshot, out.Economy.BalanceAfter)
			assert.True(t, out.Economy.LowBalanceWarning)
			assert.Equal(t, 2, out.AgentConsole.RepairCount)
			assert.False(t, strings.TrimSpace(out.Narrative) == "")
		}
	}
}
