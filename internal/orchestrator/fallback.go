package orchestrator

import "github.com/jwebster45206/unknown-world/pkg/turn"

var fallbackNarratives = map[turn.Language]string{
	turn.LanguageKO: "잠시 세계가 흐릿하게 일렁입니다. 무엇이 일어났는지 분명하지 않습니다. 다시 시도해 주세요.",
	turn.LanguageEN: "The world shimmers and blurs for a moment. It is unclear what just happened. Please try again.",
}

var safetyMessages = map[turn.Language]string{
	turn.LanguageKO: "이 행동은 진행할 수 없습니다. 다른 행동을 선택해 주세요.",
	turn.LanguageEN: "That action cannot be carried out. Please choose another.",
}

// Fallback is the deterministic output used when no valid model output
// could be produced. It costs nothing and leaves the balance unchanged.
func Fallback(lang turn.Language, snapshot turn.CurrencyAmount, repairCount int) turn.TurnOutput {
	narrative, ok := fallbackNarratives[lang]
	if !ok {
		lang = turn.LanguageKO
		narrative = fallbackNarratives[lang]
	}
	out := turn.TurnOutput{
		Language:  lang,
		Narrative: narrative,
		Economy: turn.EconomyOutput{
			BalanceAfter:      snapshot,
			LowBalanceWarning: snapshot.Signal < turn.LowBalanceThresholdSignal,
		},
		AgentConsole: turn.AgentConsole{
			CurrentPhase: turn.PhaseValidate,
			RepairCount:  repairCount,
			ModelLabel:   turn.ModelFast,
		},
	}
	out.Normalize()
	return out
}

// SafetyFallback is Fallback with the turn marked as blocked.
func SafetyFallback(lang turn.Language, snapshot turn.CurrencyAmount, repairCount int) turn.TurnOutput {
	out := Fallback(lang, snapshot, repairCount)
	out.Safety = turn.SafetyOutput{Blocked: true, Message: safetyMessages[out.Language]}
	return out
}
