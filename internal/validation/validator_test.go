package validation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func koInput(signal, shard int) turn.TurnInput {
	return turn.TurnInput{
		Language:        turn.LanguageKO,
		InputKind:       turn.InputText,
		Text:            "문을 열어본다",
		EconomySnapshot: turn.CurrencyAmount{Signal: signal, MemoryShard: shard},
	}
}

func validOutput() turn.TurnOutput {
	out := turn.TurnOutput{
		Language:  turn.LanguageKO,
		Narrative: "낡은 문이 삐걱이며 열린다. Signal 수치가 미세하게 흔들린다.",
		UI: turn.UIOutput{ActionDeck: turn.ActionDeck{Cards: []turn.ActionCard{
			{ID: "look", Label: "주변을 둘러본다", Cost: turn.CurrencyAmount{Signal: 1}, Risk: turn.RiskLow, Enabled: true},
		}}},
		Economy: turn.EconomyOutput{
			Cost:         turn.CurrencyAmount{Signal: 5},
			Gains:        turn.CurrencyAmount{Signal: 2, MemoryShard: 1},
			BalanceAfter: turn.CurrencyAmount{Signal: 97, MemoryShard: 6},
		},
	}
	out.Normalize()
	return out
}

func errorTypes(res Result) []ErrorType {
	var types []ErrorType
	for _, e := range res.Errors {
		types = append(types, e.Type)
	}
	return types
}

func TestValidate_Valid(t *testing.T) {
	v := New(0, nil)
	out := validOutput()
	res := v.Validate(&out, koInput(100, 5))
	if !res.IsValid {
		t.Fatalf("expected valid output, got %v", res.Errors)
	}
	if got := Badges(res, false); !cmp.Equal(got, turn.AllOKBadges()) {
		t.Errorf("unexpected badges: %s", cmp.Diff(turn.AllOKBadges(), got))
	}
}

func TestValidate_Economy(t *testing.T) {
	tests := []struct {
		name     string
		snapshot turn.CurrencyAmount
		mutate   func(*turn.EconomyOutput)
		want     []ErrorType
	}{
		{
			name:     "signal reward over limit",
			snapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
			mutate: func(e *turn.EconomyOutput) {
				e.Gains.Signal = 31
				e.BalanceAfter.Signal = 100 - 5 + 31
			},
			want: []ErrorType{ErrEconomyRewardLimit},
		},
		{
			name:     "shard reward over limit",
			snapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
			mutate: func(e *turn.EconomyOutput) {
				e.Gains.MemoryShard = 11
				e.BalanceAfter.MemoryShard = 16
			},
			want: []ErrorType{ErrEconomyRewardLimit},
		},
		{
			name:     "balance mismatch",
			snapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
			mutate:   func(e *turn.EconomyOutput) { e.BalanceAfter.Signal = 90 },
			want:     []ErrorType{ErrEconomyBalanceMismatch},
		},
		{
			name:     "shortfall covered by credit",
			snapshot: turn.CurrencyAmount{Signal: 3, MemoryShard: 5},
			mutate: func(e *turn.EconomyOutput) {
				e.Cost.Signal = 10
				e.Gains.Signal = 0
				e.BalanceAfter.Signal = 0
				e.Credit = 7
			},
			want: nil,
		},
		{
			name:     "shortfall without credit",
			snapshot: turn.CurrencyAmount{Signal: 3, MemoryShard: 5},
			mutate: func(e *turn.EconomyOutput) {
				e.Cost.Signal = 10
				e.Gains.Signal = 0
				e.BalanceAfter.Signal = 0
			},
			want: []ErrorType{ErrEconomyCreditViolation},
		},
		{
			name:     "shortfall over credit limit",
			snapshot: turn.CurrencyAmount{Signal: 0, MemoryShard: 5},
			mutate: func(e *turn.EconomyOutput) {
				e.Cost.Signal = 60
				e.Gains.Signal = 0
				e.BalanceAfter.Signal = 0
				e.Credit = 50
			},
			want: []ErrorType{ErrEconomyCreditViolation},
		},
		{
			name:     "credit without shortfall",
			snapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 5},
			mutate:   func(e *turn.EconomyOutput) { e.Credit = 4 },
			want:     []ErrorType{ErrEconomyCreditViolation},
		},
		{
			name:     "shard overspend",
			snapshot: turn.CurrencyAmount{Signal: 100, MemoryShard: 0},
			mutate: func(e *turn.EconomyOutput) {
				e.Cost.MemoryShard = 2
				e.Gains.MemoryShard = 0
				e.BalanceAfter.MemoryShard = 0
			},
			want: []ErrorType{ErrEconomyCreditViolation},
		},
	}

	v := New(turn.MaxCredit, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := validOutput()
			tt.mutate(&out.Economy)
			res := v.Validate(&out, koInput(tt.snapshot.Signal, tt.snapshot.MemoryShard))
			if diff := cmp.Diff(tt.want, errorTypes(res)); diff != "" {
				t.Errorf("error types mismatch (-want +got):\n%s", diff)
			}
			if res.IsValid != (len(tt.want) == 0) {
				t.Errorf("IsValid = %v", res.IsValid)
			}
		})
	}
}

func TestValidate_Language(t *testing.T) {
	v := New(0, nil)

	t.Run("korean with english word", func(t *testing.T) {
		out := validOutput()
		out.Narrative = "한국어와 English 혼합"
		res := v.Validate(&out, koInput(100, 5))
		assert.False(t, res.IsValid)
		assert.Equal(t, []ErrorType{ErrLanguageContentMixed}, errorTypes(res))
		assert.Equal(t, "narrative", res.Errors[0].Field)
		assert.Contains(t, res.Errors[0].Message, `"English"`)
		assert.Equal(t, CategoryLanguage, Categorize(res.Errors))
		assert.Contains(t, Badges(res, false), turn.BadgeConsistencyFail)
	})

	t.Run("korean with whitelisted terms", func(t *testing.T) {
		out := validOutput()
		out.Narrative = "Echo가 Memory Shard를 건넨다. NPC가 웃는다."
		res := v.Validate(&out, koInput(100, 5))
		assert.True(t, res.IsValid, "%v", res.Errors)
	})

	t.Run("english card label with hangul", func(t *testing.T) {
		out := validOutput()
		out.Language = turn.LanguageEN
		out.Narrative = "The door creaks open."
		out.UI.ActionDeck.Cards[0].Label = "Look 주변"
		in := koInput(100, 5)
		in.Language = turn.LanguageEN
		res := v.Validate(&out, in)
		assert.Equal(t, []ErrorType{ErrLanguageContentMixed}, errorTypes(res))
		assert.Equal(t, "ui.action_deck.cards.0.label", res.Errors[0].Field)
	})

	t.Run("language tag mismatch", func(t *testing.T) {
		out := validOutput()
		out.Language = turn.LanguageEN
		res := v.Validate(&out, koInput(100, 5))
		assert.Equal(t, []ErrorType{ErrLanguageMismatch}, errorTypes(res))
	})
}

func TestValidate_BoxesCorrectedInPlace(t *testing.T) {
	v := New(0, nil)
	out := validOutput()
	out.UI.Objects = []turn.SceneObject{
		{ID: "ok", Label: "문", Box2D: turn.Box2D{Ymin: 100, Xmin: 100, Ymax: 300, Xmax: 300}},
		{ID: "flat", Label: "창문", Box2D: turn.Box2D{Ymin: 500, Xmin: 200, Ymax: 500, Xmax: 1200}},
	}
	res := v.Validate(&out, koInput(100, 5))

	assert.Equal(t, []ErrorType{ErrBBoxInvalid}, errorTypes(res))
	assert.Equal(t, "ui.objects.1.box_2d", res.Errors[0].Field)
	for _, obj := range out.UI.Objects {
		if !obj.Box2D.Valid() {
			t.Errorf("box %s left invalid: %+v", obj.ID, obj.Box2D)
		}
	}
	assert.Equal(t, 600, out.UI.Objects[1].Box2D.Ymax)
}

func TestValidate_Safety(t *testing.T) {
	v := New(0, nil)

	t.Run("consistent block", func(t *testing.T) {
		out := validOutput()
		out.Safety = turn.SafetyOutput{Blocked: true, Message: "이 행동은 진행할 수 없습니다."}
		out.UI.ActionDeck.Cards = []turn.ActionCard{}
		out.Economy = turn.EconomyOutput{BalanceAfter: turn.CurrencyAmount{Signal: 100, MemoryShard: 5}}
		res := v.Validate(&out, koInput(100, 5))
		assert.True(t, res.IsValid, "%v", res.Errors)
		assert.Equal(t, turn.BadgeSafetyBlocked, Badges(res, true)[2])
	})

	t.Run("block with cards and cost", func(t *testing.T) {
		out := validOutput()
		out.Safety.Blocked = true
		res := v.Validate(&out, koInput(100, 5))
		assert.Equal(t, []ErrorType{ErrSafetyInconsistent, ErrSafetyInconsistent, ErrSafetyInconsistent}, errorTypes(res))
	})
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		errs []Error
		want Category
	}{
		{nil, CategoryNone},
		{[]Error{{Type: ErrEconomyBalanceMismatch}}, CategoryEconomy},
		{[]Error{{Type: ErrBBoxInvalid}, {Type: ErrEconomyRewardLimit}}, CategoryEconomy},
		{[]Error{{Type: ErrEconomyRewardLimit}, {Type: ErrLanguageContentMixed}}, CategoryLanguage},
		{[]Error{{Type: ErrSafetyInconsistent}}, CategoryConsistency},
	}
	for _, tt := range tests {
		if got := Categorize(tt.errs); got != tt.want {
			t.Errorf("Categorize(%v) = %q, want %q", tt.errs, got, tt.want)
		}
	}
}

func TestFailureBadges(t *testing.T) {
	assert.Equal(t, []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyOK, turn.BadgeSafetyBlocked}, FailureBadges(CategorySafety))
	assert.Contains(t, FailureBadges(CategorySchema), turn.BadgeSchemaFail)
	assert.Contains(t, FailureBadges(CategoryEconomy), turn.BadgeEconomyFail)
	assert.Contains(t, FailureBadges(CategoryLanguage), turn.BadgeConsistencyFail)
	assert.Contains(t, FailureBadges(CategoryAPI), turn.BadgeConsistencyFail)
}

func TestRepairMessage(t *testing.T) {
	for _, cat := range []Category{CategorySchema, CategoryEconomy, CategoryLanguage, CategoryConsistency, CategoryAPI, "unknown"} {
		for _, lang := range []turn.Language{turn.LanguageKO, turn.LanguageEN} {
			msg := RepairMessage(lang, cat)
			if msg == "" || utf8.RuneCountInString(msg) > MaxRepairMessageLen {
				t.Errorf("RepairMessage(%s, %s) = %q", lang, cat, msg)
			}
		}
	}
	assert.Contains(t, RepairMessage(turn.LanguageKO, CategoryLanguage), "언어 혼합이 감지되었습니다")
	assert.NotContains(t, RepairMessage(turn.LanguageEN, CategoryLanguage), "언어")
}

func TestSummary(t *testing.T) {
	errs := []Error{
		{Type: ErrEconomyBalanceMismatch, Field: "economy.balance_after.signal", Message: "must be 97"},
		{Type: ErrLanguageContentMixed, Field: "narrative", Message: "rewrite in Korean only"},
	}
	got := Summary(errs)
	assert.Equal(t, "ECONOMY_BALANCE_MISMATCH at economy.balance_after.signal: must be 97; LANGUAGE_CONTENT_MIXED at narrative: rewrite in Korean only", got)

	long := make([]Error, 50)
	for i := range long {
		long[i] = Error{Type: ErrBBoxInvalid, Field: "ui.objects", Message: strings.Repeat("x", 40)}
	}
	if n := utf8.RuneCountInString(Summary(long)); n > maxSummaryLen {
		t.Errorf("summary not clipped: %d runes", n)
	}
}
