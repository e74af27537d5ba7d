package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// RepairPreamble introduces the error summary appended on a repair attempt.
const RepairPreamble = "The previous response had these validation errors: "

// RepairSuffix closes the repair note.
const RepairSuffix = "; correct them and return only valid JSON matching the schema."

// Builder assembles the model input for one turn, either as a single prompt
// string or as a system instruction plus conversation contents.
type Builder struct {
	language        turn.Language
	systemPrompt    string
	instructions    string
	imageGuidelines string
	worldContext    string
	sceneContext    string
	economy         turn.CurrencyAmount
	action          string
	actionID        string
	history         []chat.Message
	repairNote      string
}

// New creates a new prompt builder for the given output language.
func New(lang turn.Language) *Builder {
	return &Builder{language: lang}
}

func (b *Builder) WithSystemPrompt(s string) *Builder {
	b.systemPrompt = s
	return b
}

func (b *Builder) WithTurnInstructions(s string) *Builder {
	b.instructions = s
	return b
}

func (b *Builder) WithImageGuidelines(s string) *Builder {
	b.imageGuidelines = s
	return b
}

func (b *Builder) WithWorldContext(s string) *Builder {
	b.worldContext = s
	return b
}

// WithSceneContext primes the first turn of a scene.
func (b *Builder) WithSceneContext(s string) *Builder {
	b.sceneContext = s
	return b
}

func (b *Builder) WithEconomy(snapshot turn.CurrencyAmount) *Builder {
	b.economy = snapshot
	return b
}

// WithAction sets the player's utterance and the optional action card id.
func (b *Builder) WithAction(utterance, actionID string) *Builder {
	b.action = utterance
	b.actionID = actionID
	return b
}

// WithHistory sets prior conversation. With history present the builder
// produces contents instead of a single prompt.
func (b *Builder) WithHistory(msgs []chat.Message) *Builder {
	b.history = msgs
	return b
}

// WithRepairNote appends a machine-generated error summary to the user turn.
func (b *Builder) WithRepairNote(summary string) *Builder {
	b.repairNote = summary
	return b
}

func (b *Builder) HasHistory() bool {
	return len(b.history) > 0
}

// SystemInstruction joins the static prompt sections.
func (b *Builder) SystemInstruction() string {
	var sb strings.Builder
	for _, part := range []string{b.systemPrompt, b.instructions, b.imageGuidelines} {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(part)
	}
	return sb.String()
}

// UserMessage is the per-turn section: context, economy and the action.
func (b *Builder) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("LANGUAGE: %s\n", b.language))
	if b.worldContext != "" {
		sb.WriteString("\nWORLD CONTEXT:\n")
		sb.WriteString(b.worldContext)
		sb.WriteString("\n")
	}
	if b.sceneContext != "" {
		sb.WriteString("\nSCENE CONTEXT:\n")
		sb.WriteString(b.sceneContext)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\nECONOMY SNAPSHOT: signal=%d, memory_shard=%d\n", b.economy.Signal, b.economy.MemoryShard))
	sb.WriteString("\nPLAYER ACTION:\n")
	if b.action == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(b.action)
	}
	sb.WriteString("\n")
	if b.actionID != "" {
		sb.WriteString(fmt.Sprintf("ACTION ID: %s\n", b.actionID))
	}
	if b.repairNote != "" {
		sb.WriteString("\n")
		sb.WriteString(RepairPreamble)
		sb.WriteString(b.repairNote)
		sb.WriteString(RepairSuffix)
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildPrompt returns the single-string form used when there is no history.
func (b *Builder) BuildPrompt() string {
	sys := b.SystemInstruction()
	if sys == "" {
		return b.UserMessage()
	}
	return sys + "\n\n" + b.UserMessage()
}

// BuildContents returns the system instruction and the ordered contents:
// history followed by the current user message.
func (b *Builder) BuildContents() (string, []chat.Message) {
	contents := make([]chat.Message, 0, len(b.history)+1)
	contents = append(contents, b.history...)
	contents = append(contents, chat.Message{Role: chat.RoleUser, Text: b.UserMessage()})
	return b.SystemInstruction(), contents
}
