package textfilter

import (
	"testing"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

func TestLanguageGate_Check(t *testing.T) {
	gate := NewLanguageGate()

	tests := []struct {
		name      string
		text      string
		lang      turn.Language
		wantFail  bool
		offending string
	}{
		{"pure korean", "문이 천천히 열린다.", turn.LanguageKO, false, ""},
		{"korean with whitelisted noun", "Signal 10을 얻었다. Echo가 속삭인다.", turn.LanguageKO, false, ""},
		{"korean with multi word noun", "Memory Shard 하나를 발견했다.", turn.LanguageKO, false, ""},
		{"korean with short abbreviation", "HP가 회복되었다. OK", turn.LanguageKO, false, ""},
		{"korean with two letter word", "go 버튼", turn.LanguageKO, false, ""},
		{"mixed korean english", "한국어와 English 혼합", turn.LanguageKO, true, "English"},
		{"lowercase leak", "문을 open 한다", turn.LanguageKO, true, "open"},
		{"whitelist is case insensitive", "signal을 감지했다", turn.LanguageKO, false, ""},
		{"pure english", "The door creaks open.", turn.LanguageEN, false, ""},
		{"english with hangul", "The door says 안녕", turn.LanguageEN, true, "안"},
		{"empty", "   ", turn.LanguageKO, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := gate.Check(tt.text, tt.lang)
			if (v != nil) != tt.wantFail {
				t.Fatalf("Check(%q) violation=%v, wantFail=%v", tt.text, v, tt.wantFail)
			}
			if v != nil && v.Offending[0] != tt.offending {
				t.Errorf("expected offending %q, got %q", tt.offending, v.Offending[0])
			}
		})
	}
}

func TestLanguageGate_AddingLatinWordRejects(t *testing.T) {
	gate := NewLanguageGate()
	base := "Signal과 Echo가 함께 빛난다"
	if v := gate.Check(base, turn.LanguageKO); v != nil {
		t.Fatalf("expected base text to pass, got %+v", v)
	}
	for _, word := range []string{"abc", "door", "Lantern", "café"} {
		if v := gate.Check(base+" "+word, turn.LanguageKO); v == nil {
			t.Errorf("expected %q to be rejected", word)
		}
	}
}

func TestLanguageGate_Analyze(t *testing.T) {
	gate := NewLanguageGate()
	s := gate.Analyze("가나 ab Signal")
	if s.Hangul != 2 || s.Latin != 2 || s.Letters != 4 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.HangulRatio() != 0.5 || s.LatinRatio() != 0.5 {
		t.Errorf("unexpected ratios %v %v", s.HangulRatio(), s.LatinRatio())
	}
	if (Stats{}).HangulRatio() != 0 {
		t.Error("expected zero ratio for empty stats")
	}
}

func TestLanguageGate_CustomWhitelist(t *testing.T) {
	gate := NewLanguageGate("Lantern")
	if v := gate.Check("Lantern을 켠다", turn.LanguageKO); v != nil {
		t.Errorf("expected custom whitelist to pass, got %+v", v)
	}
	if v := gate.Check("Signal을 얻었다", turn.LanguageKO); v == nil {
		t.Error("expected default whitelist to be replaced")
	}
}
