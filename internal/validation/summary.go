package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/jwebster45206/unknown-world/pkg/schema"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// Category is the failure class of a rejected attempt.
type Category string

const (
	CategoryNone        Category = ""
	CategorySchema      Category = "schema"
	CategoryEconomy     Category = "economy"
	CategoryLanguage    Category = "language"
	CategoryConsistency Category = "consistency"
	CategorySafety      Category = "safety"
	CategoryAPI         Category = "api"
)

const (
	maxSummaryLen       = 600
	MaxRepairMessageLen = 100
)

// Categorize returns the dominant category of errs. Language problems win
// because they are the most common reason a retry succeeds.
func Categorize(errs []Error) Category {
	cat := CategoryNone
	for _, e := range errs {
		switch e.Type {
		case ErrLanguageContentMixed, ErrLanguageMismatch:
			return CategoryLanguage
		case ErrEconomyRewardLimit, ErrEconomyBalanceMismatch, ErrEconomyCreditViolation:
			cat = CategoryEconomy
		default:
			if cat == CategoryNone {
				cat = CategoryConsistency
			}
		}
	}
	return cat
}

// Badges maps a validation result onto the badge set of an accepted or
// rejected schema-valid output.
func Badges(res Result, blocked bool) []turn.Badge {
	economy, consistency := turn.BadgeEconomyOK, turn.BadgeConsistencyOK
	for _, e := range res.Errors {
		switch e.Type {
		case ErrEconomyRewardLimit, ErrEconomyBalanceMismatch, ErrEconomyCreditViolation:
			economy = turn.BadgeEconomyFail
		default:
			consistency = turn.BadgeConsistencyFail
		}
	}
	safety := turn.BadgeSafetyOK
	if blocked {
		safety = turn.BadgeSafetyBlocked
	}
	return []turn.Badge{turn.BadgeSchemaOK, economy, safety, consistency}
}

// FailureBadges is the badge set of a fallback produced after cat failed.
func FailureBadges(cat Category) []turn.Badge {
	switch cat {
	case CategorySchema:
		return []turn.Badge{turn.BadgeSchemaFail, turn.BadgeEconomyOK, turn.BadgeSafetyOK, turn.BadgeConsistencyOK}
	case CategoryEconomy:
		return []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyFail, turn.BadgeSafetyOK, turn.BadgeConsistencyOK}
	case CategorySafety:
		return []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyOK, turn.BadgeSafetyBlocked}
	case CategoryNone:
		return turn.AllOKBadges()
	default:
		return []turn.Badge{turn.BadgeSchemaOK, turn.BadgeEconomyOK, turn.BadgeSafetyOK, turn.BadgeConsistencyFail}
	}
}

// Summary renders business errors as the machine-readable note appended to
// the next attempt's prompt.
func Summary(errs []Error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return clip(strings.Join(parts, "; "), maxSummaryLen)
}

// SchemaSummary is Summary for field-level schema errors.
func SchemaSummary(errs []schema.FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return clip(strings.Join(parts, "; "), maxSummaryLen)
}

var repairMessages = map[Category][2]string{
	CategorySchema:      {"응답 형식 오류를 수정하고 있습니다.", "Fixing a malformed response."},
	CategoryEconomy:     {"재화 계산 오류를 바로잡고 있습니다.", "Correcting the economy calculation."},
	CategoryLanguage:    {"언어 혼합이 감지되었습니다. 다시 작성합니다.", "Mixed language detected. Rewriting the response."},
	CategoryConsistency: {"장면 정보의 불일치를 바로잡고 있습니다.", "Resolving inconsistent scene data."},
	CategoryAPI:         {"모델 응답이 지연되어 다시 시도합니다.", "The model is busy. Trying again."},
}

// RepairMessage is the player-facing text of a repair event. It never
// includes prompt or response content.
func RepairMessage(lang turn.Language, cat Category) string {
	msgs, ok := repairMessages[cat]
	if !ok {
		msgs = repairMessages[CategoryConsistency]
	}
	msg := msgs[1]
	if lang.IsKorean() {
		msg = msgs[0]
	}
	return clip(msg, MaxRepairMessageLen)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
