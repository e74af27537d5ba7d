package models

import (
	"slices"
	"strings"

	"github.com/jwebster45206/unknown-world/internal/config"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// Cost multipliers per tier.
const (
	MultiplierFast    = 1.0
	MultiplierQuality = 2.0
	MultiplierVision  = 1.5
)

// Lexicon is the set of action ids and text keywords that upgrade a turn.
type Lexicon struct {
	QualityActionIDs []string
	QualityKeywords  []string
	VisionActionIDs  []string
	VisionKeywords   []string
}

// DefaultLexicon is tuned for the shipped scenarios. Keywords are matched
// case-insensitively as substrings of the player's utterance.
var DefaultLexicon = Lexicon{
	QualityActionIDs: []string{"deep_investigate", "정밀조사"},
	QualityKeywords:  []string{"자세히", "조사", "살펴보", "scrutinize", "investigate", "examine closely"},
	VisionActionIDs:  []string{"deep_analyze", "정밀분석", "analyze_scene"},
	VisionKeywords:   []string{"정밀분석", "정밀 분석", "장면 분석", "deep analyze", "analyze the scene", "scan the scene"},
}

// Selection is the tier chosen for a turn.
type Selection struct {
	Label      turn.ModelLabel
	Multiplier float64
}

// Registry maps model labels to provider model ids and decides tiers.
type Registry struct {
	ids     map[turn.ModelLabel]string
	lexicon Lexicon
}

func NewRegistry(ids map[turn.ModelLabel]string, lexicon Lexicon) *Registry {
	copied := make(map[turn.ModelLabel]string, len(ids))
	for k, v := range ids {
		copied[k] = v
	}
	return &Registry{ids: copied, lexicon: lexicon}
}

// FromConfig builds the registry from configured model ids and the default lexicon.
func FromConfig(cfg *config.Config) *Registry {
	return NewRegistry(map[turn.ModelLabel]string{
		turn.ModelFast:    cfg.ModelFast,
		turn.ModelQuality: cfg.ModelQuality,
		turn.ModelVision:  cfg.ModelVision,
		turn.ModelImage:   cfg.ModelImage,
	}, DefaultLexicon)
}

// ModelID returns the provider id for label, falling back to the FAST model.
func (r *Registry) ModelID(label turn.ModelLabel) string {
	if id, ok := r.ids[label]; ok && id != "" {
		return id
	}
	return r.ids[turn.ModelFast]
}

func matches(in turn.TurnInput, ids, keywords []string) bool {
	if in.ActionID != "" && slices.Contains(ids, in.ActionID) {
		return true
	}
	text := strings.ToLower(in.Utterance())
	if in.ActionID != "" {
		text += " " + strings.ToLower(in.ActionID)
	}
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// IsVisionTrigger reports whether the turn should run scene analysis.
func (r *Registry) IsVisionTrigger(in turn.TurnInput) bool {
	return matches(in, r.lexicon.VisionActionIDs, r.lexicon.VisionKeywords)
}

func (r *Registry) IsQualityTrigger(in turn.TurnInput) bool {
	return matches(in, r.lexicon.QualityActionIDs, r.lexicon.QualityKeywords)
}

// SelectTier picks VISION over QUALITY over FAST.
func (r *Registry) SelectTier(in turn.TurnInput) Selection {
	switch {
	case r.IsVisionTrigger(in):
		return Selection{Label: turn.ModelVision, Multiplier: MultiplierVision}
	case r.IsQualityTrigger(in):
		return Selection{Label: turn.ModelQuality, Multiplier: MultiplierQuality}
	default:
		return Selection{Label: turn.ModelFast, Multiplier: MultiplierFast}
	}
}

// Downgrade returns the tier used after an API failure.
func Downgrade(label turn.ModelLabel) turn.ModelLabel {
	if label == turn.ModelQuality || label == turn.ModelVision {
		return turn.ModelFast
	}
	return label
}
