// Package pipeline runs one turn through the seven stages and reports
// progress as a stream of events.
package pipeline

import (
	"github.com/jwebster45206/unknown-world/internal/mockgen"
	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// Context is the mutable state of one request. It is owned by the request's
// goroutine and discarded after the terminal event.
type Context struct {
	RequestID string
	Input     turn.TurnInput
	Snapshot  turn.CurrencyAmount
	Seed      int64
	IsMock    bool

	Phase            turn.Phase
	Output           *turn.TurnOutput
	Badges           []turn.Badge
	RepairAttempts   int
	RepairMessages   []string
	IsFallback       bool
	IsRateLimited    bool
	ModelLabel       turn.ModelLabel
	CostMultiplier   float64
	ThoughtSignature []byte
	ModelText        string
	History          []chat.Message
	IsVision         bool
	ImageDecision    *ImageDecision
}

func NewContext(requestID string, in turn.TurnInput, isMock bool) *Context {
	return &Context{
		RequestID:      requestID,
		Input:          in,
		Snapshot:       in.EconomySnapshot,
		Seed:           mockgen.SeedFor(in),
		IsMock:         isMock,
		Phase:          turn.PhaseParse,
		ModelLabel:     turn.ModelFast,
		CostMultiplier: models.MultiplierFast,
	}
}
