// Package textfilter detects cross-language leakage in player-visible text.
package textfilter

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// DefaultWhitelist holds proper nouns and abbreviations allowed in Korean text.
var DefaultWhitelist = []string{
	"Signal", "Echo", "Memory Shard", "Shard", "Unknown World",
	"AI", "NPC", "HP", "MP", "OK", "UI", "GPS", "QR", "Lv",
}

// MinLatinWordLen is the shortest Latin word that counts as leakage in Korean text.
const MinLatinWordLen = 3

var latinWord = regexp.MustCompile(`\p{Latin}+`)

// Stats are script counts over letters only.
type Stats struct {
	Hangul  int
	Latin   int
	Letters int
}

func (s Stats) HangulRatio() float64 { return ratio(s.Hangul, s.Letters) }
func (s Stats) LatinRatio() float64  { return ratio(s.Latin, s.Letters) }

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Violation describes why a string failed the gate.
type Violation struct {
	Offending   []string
	HangulRatio float64
	LatinRatio  float64
}

// LanguageGate checks that text is written in the target language.
type LanguageGate struct {
	whitelist []*regexp.Regexp
	folded    map[string]bool
	fold      cases.Caser
}

// NewLanguageGate builds a gate. With no arguments DefaultWhitelist is used.
func NewLanguageGate(whitelist ...string) *LanguageGate {
	if len(whitelist) == 0 {
		whitelist = DefaultWhitelist
	}
	// longest first so "Memory Shard" is removed before "Shard"
	sorted := append([]string(nil), whitelist...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	g := &LanguageGate{folded: map[string]bool{}, fold: cases.Fold()}
	for _, w := range sorted {
		g.whitelist = append(g.whitelist, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
		g.folded[g.fold.String(w)] = true
	}
	return g
}

// Strip removes whitelisted terms from text.
func (g *LanguageGate) Strip(text string) string {
	for _, re := range g.whitelist {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

// Analyze counts scripts after whitelist removal.
func (g *LanguageGate) Analyze(text string) Stats {
	var s Stats
	for _, r := range g.Strip(norm.NFC.String(text)) {
		if !unicode.IsLetter(r) {
			continue
		}
		s.Letters++
		switch {
		case unicode.Is(unicode.Hangul, r):
			s.Hangul++
		case unicode.Is(unicode.Latin, r):
			s.Latin++
		}
	}
	return s
}

// Check returns nil when text is acceptable for lang.
func (g *LanguageGate) Check(text string, lang turn.Language) *Violation {
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	stats := g.Analyze(text)

	var offending []string
	if lang.IsKorean() {
		for _, w := range latinWord.FindAllString(g.Strip(text), -1) {
			if utf8.RuneCountInString(w) < MinLatinWordLen || g.folded[g.fold.String(w)] {
				continue
			}
			offending = append(offending, w)
		}
	} else {
		for _, r := range text {
			if unicode.Is(unicode.Hangul, r) {
				offending = append(offending, string(r))
				break
			}
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return &Violation{Offending: offending, HangulRatio: stats.HangulRatio(), LatinRatio: stats.LatinRatio()}
}
