package pipeline

import "github.com/jwebster45206/unknown-world/pkg/turn"

type EventType string

const (
	EventStage          EventType = "stage"
	EventBadges         EventType = "badges"
	EventRepair         EventType = "repair"
	EventNarrativeDelta EventType = "narrative_delta"
	EventFinal          EventType = "final"
	EventError          EventType = "error"
)

type StageStatus string

const (
	StageStart    StageStatus = "start"
	StageComplete StageStatus = "complete"
	StageFail     StageStatus = "fail"
)

type ErrorCode string

const (
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeInternal        ErrorCode = "INTERNAL"
)

// Event is one line of the turn stream. Only the fields of its type are set.
type Event struct {
	Type    EventType        `json:"type"`
	Name    turn.Phase       `json:"name,omitempty"`
	Status  StageStatus      `json:"status,omitempty"`
	Badges  []turn.Badge     `json:"badges,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Text    string           `json:"text,omitempty"`
	Data    *turn.TurnOutput `json:"data,omitempty"`
	Code    ErrorCode        `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// IsTerminal reports whether e ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

// Emit delivers an event. It is only called from the request's own goroutine.
type Emit func(Event)

func StageEvent(phase turn.Phase, status StageStatus) Event {
	return Event{Type: EventStage, Name: phase, Status: status}
}

func BadgesEvent(badges []turn.Badge) Event {
	return Event{Type: EventBadges, Badges: append([]turn.Badge{}, badges...)}
}

func RepairEvent(attempt int, message string) Event {
	return Event{Type: EventRepair, Attempt: attempt, Message: message}
}

// NarrativeDeltaEvent is reserved: the runner sends the narrative only
// inside the final event. Clients must still accept it.
func NarrativeDeltaEvent(text string) Event {
	return Event{Type: EventNarrativeDelta, Text: text}
}

// FinalEvent carries a copy of out.
func FinalEvent(out turn.TurnOutput) Event {
	c := out.Clone()
	return Event{Type: EventFinal, Data: &c}
}

func ErrorEvent(code ErrorCode, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}
