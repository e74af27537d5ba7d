// Package validation applies the business rules a schema-valid TurnOutput
// must also satisfy: economy arithmetic, language policy, bounding boxes and
// safety consistency.
package validation

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/unknown-world/pkg/textfilter"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type ErrorType string

const (
	ErrEconomyRewardLimit     ErrorType = "ECONOMY_REWARD_LIMIT"
	ErrEconomyBalanceMismatch ErrorType = "ECONOMY_BALANCE_MISMATCH"
	ErrEconomyCreditViolation ErrorType = "ECONOMY_CREDIT_VIOLATION"
	ErrLanguageContentMixed   ErrorType = "LANGUAGE_CONTENT_MIXED"
	ErrLanguageMismatch       ErrorType = "LANGUAGE_MISMATCH"
	ErrBBoxInvalid            ErrorType = "BBOX_INVALID"
	ErrSafetyInconsistent     ErrorType = "SAFETY_INCONSISTENT"
)

// Error is one business-rule violation.
type Error struct {
	Type    ErrorType `json:"type"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (e Error) String() string {
	return fmt.Sprintf("%s at %s: %s", e.Type, e.Field, e.Message)
}

// Result is the outcome of Validate.
type Result struct {
	IsValid bool    `json:"is_valid"`
	Errors  []Error `json:"errors"`
}

// Validator checks outputs against the player's input. It holds no
// per-request state and is safe for concurrent use.
type Validator struct {
	maxCredit int
	gate      *textfilter.LanguageGate
}

// New returns a validator. A nil gate uses the default whitelist.
func New(maxCredit int, gate *textfilter.LanguageGate) *Validator {
	if maxCredit <= 0 {
		maxCredit = turn.MaxCredit
	}
	if gate == nil {
		gate = textfilter.NewLanguageGate()
	}
	return &Validator{maxCredit: maxCredit, gate: gate}
}

func (v *Validator) MaxCredit() int { return v.maxCredit }

// Validate checks out against in. Invalid boxes are corrected in place so
// later stages never see them, but they still count as violations.
func (v *Validator) Validate(out *turn.TurnOutput, in turn.TurnInput) Result {
	var errs []Error
	errs = append(errs, v.checkEconomy(out.Economy, in.EconomySnapshot)...)
	errs = append(errs, v.checkLanguage(out, in.Language)...)
	errs = append(errs, checkBoxes(out)...)
	errs = append(errs, checkSafety(out)...)
	return Result{IsValid: len(errs) == 0, Errors: errs}
}

func (v *Validator) checkEconomy(eco turn.EconomyOutput, snapshot turn.CurrencyAmount) []Error {
	var errs []Error
	if eco.Gains.Signal > turn.MaxSingleTurnRewardSignal {
		errs = append(errs, Error{ErrEconomyRewardLimit, "economy.gains.signal",
			fmt.Sprintf("gains.signal %d exceeds the per-turn limit %d", eco.Gains.Signal, turn.MaxSingleTurnRewardSignal)})
	}
	if eco.Gains.MemoryShard > turn.MaxSingleTurnRewardMemoryShard {
		errs = append(errs, Error{ErrEconomyRewardLimit, "economy.gains.memory_shard",
			fmt.Sprintf("gains.memory_shard %d exceeds the per-turn limit %d", eco.Gains.MemoryShard, turn.MaxSingleTurnRewardMemoryShard)})
	}

	rawSignal := snapshot.Signal - eco.Cost.Signal + eco.Gains.Signal
	rawShard := snapshot.MemoryShard - eco.Cost.MemoryShard + eco.Gains.MemoryShard

	if want := max(0, rawSignal); eco.BalanceAfter.Signal != want {
		errs = append(errs, Error{ErrEconomyBalanceMismatch, "economy.balance_after.signal",
			fmt.Sprintf("balance_after.signal must be %d (snapshot %d - cost %d + gains %d), got %d",
				want, snapshot.Signal, eco.Cost.Signal, eco.Gains.Signal, eco.BalanceAfter.Signal)})
	}
	if want := max(0, rawShard); eco.BalanceAfter.MemoryShard != want {
		errs = append(errs, Error{ErrEconomyBalanceMismatch, "economy.balance_after.memory_shard",
			fmt.Sprintf("balance_after.memory_shard must be %d (snapshot %d - cost %d + gains %d), got %d",
				want, snapshot.MemoryShard, eco.Cost.MemoryShard, eco.Gains.MemoryShard, eco.BalanceAfter.MemoryShard)})
	}

	// credit is denominated in Signal only
	shortfall := max(0, -rawSignal)
	switch {
	case shortfall > v.maxCredit:
		errs = append(errs, Error{ErrEconomyCreditViolation, "economy.credit",
			fmt.Sprintf("signal shortfall %d exceeds the credit limit %d", shortfall, v.maxCredit)})
	case eco.Credit != shortfall:
		errs = append(errs, Error{ErrEconomyCreditViolation, "economy.credit",
			fmt.Sprintf("credit must equal the signal shortfall %d, got %d", shortfall, eco.Credit)})
	}
	if rawShard < 0 {
		errs = append(errs, Error{ErrEconomyCreditViolation, "economy.cost.memory_shard",
			fmt.Sprintf("memory_shard cost %d exceeds the available %d", eco.Cost.MemoryShard, snapshot.MemoryShard+eco.Gains.MemoryShard)})
	}
	return errs
}

type visibleText struct {
	field string
	text  string
}

// visibleTexts lists every player-visible string of out with its field path.
func visibleTexts(out *turn.TurnOutput) []visibleText {
	texts := []visibleText{{"narrative", out.Narrative}}
	for i, c := range out.UI.ActionDeck.Cards {
		texts = append(texts,
			visibleText{fmt.Sprintf("ui.action_deck.cards.%d.label", i), c.Label},
			visibleText{fmt.Sprintf("ui.action_deck.cards.%d.description", i), c.Description})
	}
	for i, o := range out.UI.Objects {
		texts = append(texts,
			visibleText{fmt.Sprintf("ui.objects.%d.label", i), o.Label},
			visibleText{fmt.Sprintf("ui.objects.%d.interaction_hint", i), o.InteractionHint})
	}
	for i, it := range out.World.InventoryAdded {
		texts = append(texts,
			visibleText{fmt.Sprintf("world.inventory_added.%d.label", i), it.Label},
			visibleText{fmt.Sprintf("world.inventory_added.%d.description", i), it.Description})
	}
	for i, q := range out.World.QuestsUpdated {
		texts = append(texts, visibleText{fmt.Sprintf("world.quests_updated.%d.label", i), q.Label})
	}
	for i, r := range out.World.RulesChanged {
		texts = append(texts, visibleText{fmt.Sprintf("world.rules_changed.%d", i), r})
	}
	for i, p := range out.World.MemoryPins {
		texts = append(texts, visibleText{fmt.Sprintf("world.memory_pins.%d.label", i), p.Label})
	}
	texts = append(texts, visibleText{"safety.message", out.Safety.Message})
	return texts
}

func (v *Validator) checkLanguage(out *turn.TurnOutput, lang turn.Language) []Error {
	var errs []Error
	if out.Language != lang {
		errs = append(errs, Error{ErrLanguageMismatch, "language",
			fmt.Sprintf("language must be %s, got %s", lang, out.Language)})
	}
	for _, vt := range visibleTexts(out) {
		viol := v.gate.Check(vt.text, lang)
		if viol == nil {
			continue
		}
		var msg string
		if lang.IsKorean() {
			msg = fmt.Sprintf("rewrite in Korean only; found Latin words %s", quoteList(viol.Offending, 3))
		} else {
			msg = fmt.Sprintf("rewrite in English only; found Hangul (ratio %.2f)", viol.HangulRatio)
		}
		errs = append(errs, Error{ErrLanguageContentMixed, vt.field, msg})
	}
	return errs
}

func quoteList(words []string, limit int) string {
	if len(words) > limit {
		words = words[:limit]
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = fmt.Sprintf("%q", w)
	}
	return strings.Join(quoted, ", ")
}

func checkBoxes(out *turn.TurnOutput) []Error {
	var errs []Error
	for i := range out.UI.Objects {
		obj := &out.UI.Objects[i]
		fixed, ok := obj.Box2D.Corrected()
		if ok {
			continue
		}
		errs = append(errs, Error{ErrBBoxInvalid, fmt.Sprintf("ui.objects.%d.box_2d", i),
			fmt.Sprintf("box %+v must satisfy 0<=min<max<=1000 on both axes", obj.Box2D)})
		obj.Box2D = fixed
	}
	return errs
}

func checkSafety(out *turn.TurnOutput) []Error {
	if !out.Safety.Blocked {
		return nil
	}
	var errs []Error
	if len(out.UI.ActionDeck.Cards) > 0 {
		errs = append(errs, Error{ErrSafetyInconsistent, "ui.action_deck.cards", "blocked turns must have no action cards"})
	}
	if len(out.UI.Objects) > 0 {
		errs = append(errs, Error{ErrSafetyInconsistent, "ui.objects", "blocked turns must have no objects"})
	}
	if out.Economy.Cost != (turn.CurrencyAmount{}) {
		errs = append(errs, Error{ErrSafetyInconsistent, "economy.cost", "blocked turns must cost nothing"})
	}
	if out.Economy.Gains != (turn.CurrencyAmount{}) {
		errs = append(errs, Error{ErrSafetyInconsistent, "economy.gains", "blocked turns must grant nothing"})
	}
	return errs
}
