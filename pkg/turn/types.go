// Package turn holds the wire types for one game turn: the player's input, the
// structured output the model must produce, and the helpers that parse and
// normalize them.
package turn

// Economy limits.
const (
	MaxCredit                      = 50
	MaxSingleTurnRewardSignal      = 30
	MaxSingleTurnRewardMemoryShard = 10
	ImageGenerationCostSignal      = 10
	LowBalanceThresholdSignal      = 10

	MaxActionCards     = 5
	MaxInventoryAdded  = 5
	MaxInventoryRemove = 5
	MaxQuestsUpdated   = 3
	MaxRulesChanged    = 3
	MaxMemoryPins      = 2
	BoxScale           = 1000
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (RiskLevel) Values() []string { return []string{"low", "medium", "high"} }

type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseValidate Phase = "validate"
	PhasePlan     Phase = "plan"
	PhaseResolve  Phase = "resolve"
	PhaseRender   Phase = "render"
	PhaseVerify   Phase = "verify"
	PhaseCommit   Phase = "commit"
)

// Phases lists every pipeline phase in execution order.
var Phases = []Phase{PhaseParse, PhaseValidate, PhasePlan, PhaseResolve, PhaseRender, PhaseVerify, PhaseCommit}

func (Phase) Values() []string {
	out := make([]string, len(Phases))
	for i, p := range Phases {
		out[i] = string(p)
	}
	return out
}

type Badge string

const (
	BadgeSchemaOK        Badge = "schema_ok"
	BadgeSchemaFail      Badge = "schema_fail"
	BadgeEconomyOK       Badge = "economy_ok"
	BadgeEconomyFail     Badge = "economy_fail"
	BadgeSafetyOK        Badge = "safety_ok"
	BadgeSafetyBlocked   Badge = "safety_blocked"
	BadgeConsistencyOK   Badge = "consistency_ok"
	BadgeConsistencyFail Badge = "consistency_fail"
)

func (Badge) Values() []string {
	return []string{
		"schema_ok", "schema_fail", "economy_ok", "economy_fail",
		"safety_ok", "safety_blocked", "consistency_ok", "consistency_fail",
	}
}

// AllOKBadges is the badge set of a turn that passed every check.
func AllOKBadges() []Badge {
	return []Badge{BadgeSchemaOK, BadgeEconomyOK, BadgeSafetyOK, BadgeConsistencyOK}
}

type ModelLabel string

const (
	ModelFast    ModelLabel = "FAST"
	ModelQuality ModelLabel = "QUALITY"
	ModelImage   ModelLabel = "IMAGE"
	ModelVision  ModelLabel = "VISION"
)

func (ModelLabel) Values() []string { return []string{"FAST", "QUALITY", "IMAGE", "VISION"} }

type CurrencyAmount struct {
	Signal      int `json:"signal" jsonschema:"required,minimum=0"`
	MemoryShard int `json:"memory_shard" jsonschema:"required,minimum=0"`
}

// Box2D is a normalized bounding box on a 0..1000 grid.
type Box2D struct {
	Ymin int `json:"ymin" jsonschema:"required,minimum=0,maximum=1000"`
	Xmin int `json:"xmin" jsonschema:"required,minimum=0,maximum=1000"`
	Ymax int `json:"ymax" jsonschema:"required,minimum=0,maximum=1000"`
	Xmax int `json:"xmax" jsonschema:"required,minimum=0,maximum=1000"`
}

type SceneObject struct {
	ID              string `json:"id" jsonschema:"required"`
	Label           string `json:"label" jsonschema:"required"`
	Box2D           Box2D  `json:"box_2d" jsonschema:"required"`
	InteractionHint string `json:"interaction_hint,omitempty"`
}

type ActionCard struct {
	ID            string         `json:"id" jsonschema:"required"`
	Label         string         `json:"label" jsonschema:"required,minLength=1"`
	Description   string         `json:"description,omitempty"`
	Cost          CurrencyAmount `json:"cost" jsonschema:"required"`
	Risk          RiskLevel      `json:"risk" jsonschema:"required"`
	Enabled       bool           `json:"enabled" jsonschema:"required"`
	IsAlternative bool           `json:"is_alternative"`
}

type ActionDeck struct {
	Cards []ActionCard `json:"cards" jsonschema:"required,maxItems=5"`
}

type UIOutput struct {
	ActionDeck ActionDeck    `json:"action_deck" jsonschema:"required"`
	Objects    []SceneObject `json:"objects"`
}

type InventoryItem struct {
	ID          string `json:"id" jsonschema:"required"`
	Label       string `json:"label" jsonschema:"required"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity" jsonschema:"required,minimum=1"`
}

type Quest struct {
	ID           string `json:"id" jsonschema:"required"`
	Label        string `json:"label" jsonschema:"required"`
	IsMain       bool   `json:"is_main" jsonschema:"required"`
	Progress     int    `json:"progress" jsonschema:"required,minimum=0,maximum=100"`
	RewardSignal int    `json:"reward_signal" jsonschema:"required,minimum=0"`
	IsCompleted  bool   `json:"is_completed" jsonschema:"required"`
}

type MemoryPin struct {
	ID    string `json:"id" jsonschema:"required"`
	Label string `json:"label" jsonschema:"required"`
}

type WorldDelta struct {
	InventoryAdded   []InventoryItem `json:"inventory_added" jsonschema:"maxItems=5"`
	InventoryRemoved []string        `json:"inventory_removed" jsonschema:"maxItems=5"`
	QuestsUpdated    []Quest         `json:"quests_updated" jsonschema:"maxItems=3"`
	RulesChanged     []string        `json:"rules_changed" jsonschema:"maxItems=3"`
	MemoryPins       []MemoryPin     `json:"memory_pins" jsonschema:"maxItems=2"`
}

type ImageJob struct {
	ShouldGenerate    bool       `json:"should_generate" jsonschema:"required"`
	Prompt            string     `json:"prompt" jsonschema:"required"`
	AspectRatio       string     `json:"aspect_ratio,omitempty"`
	Size              string     `json:"size,omitempty"`
	ModelLabel        ModelLabel `json:"model_label,omitempty"`
	ReferenceImageURL string     `json:"reference_image_url,omitempty"`
}

type RenderOutput struct {
	ImageJob          *ImageJob `json:"image_job,omitempty"`
	ImageURL          string    `json:"image_url,omitempty"`
	ImageID           string    `json:"image_id,omitempty"`
	GenerationTimeMS  int       `json:"generation_time_ms,omitempty" jsonschema:"minimum=0"`
	BackgroundRemoved bool      `json:"background_removed,omitempty"`
}

type EconomyOutput struct {
	Cost              CurrencyAmount `json:"cost" jsonschema:"required"`
	BalanceAfter      CurrencyAmount `json:"balance_after" jsonschema:"required"`
	Gains             CurrencyAmount `json:"gains"`
	Credit            int            `json:"credit" jsonschema:"minimum=0,maximum=50"` // maximum is MaxCredit
	LowBalanceWarning bool           `json:"low_balance_warning"`
}

type SafetyOutput struct {
	Blocked bool   `json:"blocked" jsonschema:"required"`
	Message string `json:"message,omitempty"`
}

type AgentConsole struct {
	CurrentPhase Phase      `json:"current_phase" jsonschema:"required"`
	Badges       []Badge    `json:"badges" jsonschema:"required"`
	RepairCount  int        `json:"repair_count" jsonschema:"required,minimum=0"`
	ModelLabel   ModelLabel `json:"model_label" jsonschema:"required"`
}

type TurnOutput struct {
	Language     Language      `json:"language" jsonschema:"required"`
	Narrative    string        `json:"narrative" jsonschema:"required,minLength=1"`
	UI           UIOutput      `json:"ui" jsonschema:"required"`
	World        WorldDelta    `json:"world"`
	Render       RenderOutput  `json:"render"`
	Economy      EconomyOutput `json:"economy" jsonschema:"required"`
	Safety       SafetyOutput  `json:"safety" jsonschema:"required"`
	AgentConsole AgentConsole  `json:"agent_console"`
}

// Normalize replaces nil slices with empty ones so every array field
// serializes as [] and round-trips unchanged.
func (o *TurnOutput) Normalize() {
	if o.UI.ActionDeck.Cards == nil {
		o.UI.ActionDeck.Cards = []ActionCard{}
	}
	if o.UI.Objects == nil {
		o.UI.Objects = []SceneObject{}
	}
	w := &o.World
	if w.InventoryAdded == nil {
		w.InventoryAdded = []InventoryItem{}
	}
	if w.InventoryRemoved == nil {
		w.InventoryRemoved = []string{}
	}
	if w.QuestsUpdated == nil {
		w.QuestsUpdated = []Quest{}
	}
	if w.RulesChanged == nil {
		w.RulesChanged = []string{}
	}
	if w.MemoryPins == nil {
		w.MemoryPins = []MemoryPin{}
	}
	if o.AgentConsole.Badges == nil {
		o.AgentConsole.Badges = []Badge{}
	}
	if o.AgentConsole.CurrentPhase == "" {
		o.AgentConsole.CurrentPhase = PhaseValidate
	}
	if o.AgentConsole.ModelLabel == "" {
		o.AgentConsole.ModelLabel = ModelFast
	}
}

// Clone returns a deep copy.
func (o TurnOutput) Clone() TurnOutput {
	c := o
	c.UI.ActionDeck.Cards = append([]ActionCard(nil), o.UI.ActionDeck.Cards...)
	c.UI.Objects = append([]SceneObject(nil), o.UI.Objects...)
	c.World.InventoryAdded = append([]InventoryItem(nil), o.World.InventoryAdded...)
	c.World.InventoryRemoved = append([]string(nil), o.World.InventoryRemoved...)
	c.World.QuestsUpdated = append([]Quest(nil), o.World.QuestsUpdated...)
	c.World.RulesChanged = append([]string(nil), o.World.RulesChanged...)
	c.World.MemoryPins = append([]MemoryPin(nil), o.World.MemoryPins...)
	c.AgentConsole.Badges = append([]Badge(nil), o.AgentConsole.Badges...)
	if o.Render.ImageJob != nil {
		job := *o.Render.ImageJob
		c.Render.ImageJob = &job
	}
	c.Normalize()
	return c
}
