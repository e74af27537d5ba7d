// Package mockgen produces deterministic turn outputs without calling a
// model. The same input and seed always yield the same output.
package mockgen

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type phrasebook struct {
	openings  []string
	details   []string
	closings  []string
	cards     []cardText
	items     []string
	rules     []string
	pins      []string
	imageHint string
}

type cardText struct {
	id, label, description string
}

var books = map[turn.Language]phrasebook{
	turn.LanguageKO: {
		openings: []string{
			"희미한 빛이 복도 끝에서 깜빡입니다.",
			"낡은 문이 삐걱이며 천천히 열립니다.",
			"차가운 바람이 먼지 냄새를 싣고 스쳐 지나갑니다.",
			"멀리서 기계가 낮게 웅웅거리는 소리가 들립니다.",
		},
		details: []string{
			"벽에는 알 수 없는 문양이 새겨져 있고, 바닥에는 누군가의 발자국이 남아 있습니다.",
			"책상 위에는 반쯤 타 버린 쪽지와 식어 버린 찻잔이 놓여 있습니다.",
			"천장의 균열 사이로 푸른 Signal 입자가 흩날립니다.",
			"구석의 상자 안에서 작은 Memory Shard 조각이 은은하게 빛납니다.",
		},
		closings: []string{
			"다음 행동을 신중하게 골라야 할 것 같습니다.",
			"무언가가 당신을 지켜보고 있다는 느낌이 듭니다.",
			"이곳에는 아직 밝혀지지 않은 비밀이 남아 있습니다.",
		},
		cards: []cardText{
			{"look_around", "주변을 둘러본다", "방 안을 천천히 살핀다"},
			{"open_box", "상자를 연다", "구석의 상자를 열어 본다"},
			{"follow_sound", "소리를 따라간다", "기계음이 나는 쪽으로 이동한다"},
			{"read_note", "쪽지를 읽는다", "타다 남은 쪽지를 펼쳐 본다"},
			{"rest", "잠시 쉰다", "숨을 고르며 주변을 경계한다"},
		},
		items:     []string{"녹슨 열쇠", "빛바랜 지도", "작은 손전등"},
		rules:     []string{"이 구역에서는 소리를 내면 경비가 깨어납니다."},
		pins:      []string{"복도 끝의 깜빡이는 빛", "문양이 새겨진 벽"},
		imageHint: "어두운 복도와 희미한 푸른 빛이 있는 장면",
	},
	turn.LanguageEN: {
		openings: []string{
			"A faint light flickers at the end of the corridor.",
			"The old door creaks and slowly swings open.",
			"A cold draft drifts past, carrying the smell of dust.",
			"Somewhere far off, a machine hums low and steady.",
		},
		details: []string{
			"Strange glyphs are carved into the wall, and someone's footprints mark the floor.",
			"On the desk lie a half-burnt note and a cup of tea long gone cold.",
			"Blue Signal motes drift down through a crack in the ceiling.",
			"Inside a crate in the corner, a small Memory Shard glows softly.",
		},
		closings: []string{
			"You should choose your next move carefully.",
			"You feel as if something is watching you.",
			"Secrets still linger in this place.",
		},
		cards: []cardText{
			{"look_around", "Look around", "Slowly survey the room"},
			{"open_box", "Open the crate", "Pry open the crate in the corner"},
			{"follow_sound", "Follow the sound", "Move toward the humming machine"},
			{"read_note", "Read the note", "Unfold the half-burnt note"},
			{"rest", "Rest a moment", "Catch your breath and stay alert"},
		},
		items:     []string{"Rusty key", "Faded map", "Small flashlight"},
		rules:     []string{"Making noise in this area wakes the guards."},
		pins:      []string{"The flickering light down the hall", "The carved wall"},
		imageHint: "a dark corridor lit by a faint blue glow",
	},
}

var risks = []turn.RiskLevel{turn.RiskLow, turn.RiskMedium, turn.RiskHigh}

// SeedFor derives a stable seed from the input when none was supplied.
func SeedFor(in turn.TurnInput) int64 {
	if in.Seed != nil {
		return *in.Seed
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d", in.Language, in.InputKind, in.Utterance(), in.ActionID,
		in.EconomySnapshot.Signal, in.EconomySnapshot.MemoryShard)
	return int64(h.Sum64() >> 1)
}

func newRand(seed int64) *rand.Rand {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seed))
	return rand.New(rand.NewPCG(uint64(seed), fnv64(b[:])))
}

func fnv64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Generate builds a schema-valid output that satisfies the economy, language
// and safety rules for in.
func Generate(in turn.TurnInput, seed int64, label turn.ModelLabel) turn.TurnOutput {
	lang := in.Language
	if lang != turn.LanguageEN {
		lang = turn.LanguageKO
	}
	book := books[lang]
	r := newRand(seed)

	narrative := pick(r, book.openings) + " " + pick(r, book.details) + " " + pick(r, book.closings)

	snapshot := in.EconomySnapshot
	cost := turn.CurrencyAmount{Signal: min(r.IntN(6), snapshot.Signal)}
	gains := turn.CurrencyAmount{Signal: r.IntN(6)}
	if r.IntN(4) == 0 {
		gains.MemoryShard = 1
	}
	balance := turn.CurrencyAmount{
		Signal:      snapshot.Signal - cost.Signal + gains.Signal,
		MemoryShard: snapshot.MemoryShard - cost.MemoryShard + gains.MemoryShard,
	}

	cardCount := 3 + r.IntN(3)
	perm := r.Perm(len(book.cards))
	cards := make([]turn.ActionCard, 0, cardCount)
	for i := 0; i < cardCount && i < len(perm); i++ {
		ct := book.cards[perm[i]]
		cardCost := turn.CurrencyAmount{Signal: r.IntN(4)}
		cards = append(cards, turn.ActionCard{
			ID:            ct.id,
			Label:         ct.label,
			Description:   ct.description,
			Cost:          cardCost,
			Risk:          risks[r.IntN(len(risks))],
			Enabled:       cardCost.Signal <= balance.Signal,
			IsAlternative: i == cardCount-1 && cardCount > 3,
		})
	}

	out := turn.TurnOutput{
		Language:  lang,
		Narrative: narrative,
		UI: turn.UIOutput{
			ActionDeck: turn.ActionDeck{Cards: cards},
		},
		Economy: turn.EconomyOutput{
			Cost:              cost,
			BalanceAfter:      balance,
			Gains:             gains,
			LowBalanceWarning: balance.Signal < turn.LowBalanceThresholdSignal,
		},
		Safety: turn.SafetyOutput{Blocked: false},
		AgentConsole: turn.AgentConsole{
			CurrentPhase: turn.PhaseValidate,
			ModelLabel:   label,
		},
	}

	if r.IntN(3) == 0 {
		out.World.InventoryAdded = []turn.InventoryItem{{
			ID:       fmt.Sprintf("item_%04d", r.IntN(10000)),
			Label:    pick(r, book.items),
			Quantity: 1,
		}}
	}
	if r.IntN(5) == 0 {
		out.World.RulesChanged = []string{pick(r, book.rules)}
	}
	if r.IntN(4) == 0 {
		out.World.MemoryPins = []turn.MemoryPin{{
			ID:    fmt.Sprintf("pin_%04d", r.IntN(10000)),
			Label: pick(r, book.pins),
		}}
	}
	if r.IntN(4) == 0 {
		out.Render.ImageJob = &turn.ImageJob{
			ShouldGenerate: true,
			Prompt:         book.imageHint,
			AspectRatio:    "16:9",
			Size:           "1024x576",
			ModelLabel:     turn.ModelImage,
		}
	}
	out.Normalize()
	return out
}

func pick[T any](r *rand.Rand, xs []T) T {
	return xs[r.IntN(len(xs))]
}
