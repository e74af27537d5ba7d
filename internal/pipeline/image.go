package pipeline

import (
	"strings"

	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type ImageReason string

const (
	ReasonAllConditionsMet    ImageReason = "all_conditions_met"
	ReasonNoImageJob          ImageReason = "no_image_job"
	ReasonEmptyPrompt         ImageReason = "empty_prompt"
	ReasonInsufficientBalance ImageReason = "insufficient_balance"
)

const DefaultAspectRatio = "16:9"

// ImageDecision says whether a turn's image job should run. The prompt
// itself never leaves this package; only its hash does.
type ImageDecision struct {
	ShouldGenerate      bool        `json:"should_generate"`
	Reason              ImageReason `json:"reason"`
	PromptHash          string      `json:"prompt_hash,omitempty"`
	AspectRatio         string      `json:"aspect_ratio,omitempty"`
	EstimatedCostSignal int         `json:"estimated_cost_signal"`
	FallbackMessage     string      `json:"fallback_message,omitempty"`
}

var insufficientBalanceMessages = map[turn.Language]string{
	turn.LanguageKO: "Signal이 부족하여 이번 장면 이미지는 생성하지 않습니다.",
	turn.LanguageEN: "Not enough Signal to render a new scene image this turn.",
}

// DecideImageGeneration applies the rules in order: a job must exist and be
// requested, its prompt must be non-blank, and the snapshot must cover the
// image cost.
func DecideImageGeneration(out turn.TurnOutput, snapshot turn.CurrencyAmount, lang turn.Language) ImageDecision {
	job := out.Render.ImageJob
	if job == nil || !job.ShouldGenerate {
		return ImageDecision{Reason: ReasonNoImageJob}
	}
	d := ImageDecision{
		AspectRatio:         job.AspectRatio,
		EstimatedCostSignal: turn.ImageGenerationCostSignal,
	}
	if d.AspectRatio == "" {
		d.AspectRatio = DefaultAspectRatio
	}
	if strings.TrimSpace(job.Prompt) == "" {
		d.Reason = ReasonEmptyPrompt
		return d
	}
	d.PromptHash = prompts.Hash(job.Prompt)
	if snapshot.Signal < turn.ImageGenerationCostSignal {
		d.Reason = ReasonInsufficientBalance
		d.FallbackMessage = insufficientBalanceMessages[lang]
		if d.FallbackMessage == "" {
			d.FallbackMessage = insufficientBalanceMessages[turn.LanguageKO]
		}
		return d
	}
	d.ShouldGenerate = true
	d.Reason = ReasonAllConditionsMet
	return d
}
