package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const MaxRepairAttempts = 2

// DefaultBackoff is the wait before the first and second repair.
var DefaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second}

// RepairEvent reports that attempt number Attempt (1-based) is starting.
type RepairEvent struct {
	Attempt  int
	Category validation.Category
	Message  string
}

// Outcome is the final state of a repair loop. Badges describe the final
// attempt only.
type Outcome struct {
	Output           turn.TurnOutput
	Badges           []turn.Badge
	RepairCount      int
	IsFallback       bool
	IsRateLimited    bool
	ModelLabel       turn.ModelLabel
	Multiplier       float64
	ThoughtSignature []byte
	// ModelText is the accepted output as sent back in later history.
	ModelText string
	Usage     services.Usage
}

// RepairLoop retries the generator until an attempt passes schema and
// business rules or the attempt budget runs out.
type RepairLoop struct {
	gen         *Generator
	validator   *validation.Validator
	maxAttempts int
	backoff     []time.Duration
	logger      *slog.Logger
}

func NewRepairLoop(gen *Generator, validator *validation.Validator, maxRepairs int, backoff []time.Duration, logger *slog.Logger) *RepairLoop {
	if maxRepairs < 0 {
		maxRepairs = MaxRepairAttempts
	}
	return &RepairLoop{
		gen:         gen,
		validator:   validator,
		maxAttempts: maxRepairs,
		backoff:     backoff,
		logger:      logger,
	}
}

func (r *RepairLoop) Generator() *Generator { return r.gen }

func (r *RepairLoop) Validator() *validation.Validator { return r.validator }

func (r *RepairLoop) wait(ctx context.Context, attempt int) error {
	if len(r.backoff) == 0 {
		return ctx.Err()
	}
	d := r.backoff[min(attempt-1, len(r.backoff)-1)]
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run produces the turn's output. onRepair, if set, is called before every
// retry in attempt order. The only error returned is the context's.
func (r *RepairLoop) Run(ctx context.Context, in turn.TurnInput, history []chat.Message, onRepair func(RepairEvent)) (Outcome, error) {
	var (
		note        string
		label       turn.ModelLabel
		lastCat     validation.Category
		lastBadges  []turn.Badge
		sawAPIError bool
		rateLimited bool
		lastLabel   = r.gen.Registry().SelectTier(in).Label
	)
	log := r.logger.With("language", in.Language)

	attempt := 0
	for ; attempt <= r.maxAttempts; attempt++ {
		if attempt > 0 {
			if onRepair != nil {
				onRepair(RepairEvent{Attempt: attempt, Category: lastCat, Message: validation.RepairMessage(in.Language, lastCat)})
			}
			if err := r.wait(ctx, attempt); err != nil {
				return Outcome{}, err
			}
			if sawAPIError && attempt == r.maxAttempts {
				label = models.Downgrade(lastLabel)
			}
		}

		res := r.gen.Generate(ctx, in, GenerateOptions{History: history, RepairNote: note, Label: label})
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		lastLabel = res.ModelLabel

		switch res.Status {
		case StatusSuccess:
			out := *res.Output
			vr := r.validator.Validate(&out, in)
			if vr.IsValid {
				badges := validation.Badges(vr, false)
				out.AgentConsole.Badges = badges
				out.AgentConsole.RepairCount = attempt
				out.AgentConsole.ModelLabel = res.ModelLabel
				text, _ := json.Marshal(out)
				log.Info("Turn generated", "attempt", attempt, "model_label", res.ModelLabel)
				return Outcome{
					Output:           out,
					Badges:           badges,
					RepairCount:      attempt,
					ModelLabel:       res.ModelLabel,
					Multiplier:       res.Multiplier,
					ThoughtSignature: res.ThoughtSignature,
					ModelText:        string(text),
					Usage:            res.Usage,
				}, nil
			}
			lastCat = validation.Categorize(vr.Errors)
			lastBadges = validation.Badges(vr, false)
			note = validation.Summary(vr.Errors)
			log.Info("Business rules rejected attempt", "attempt", attempt, "category", lastCat, "errors", len(vr.Errors))

		case StatusSchemaFailure:
			lastCat = validation.CategorySchema
			lastBadges = validation.FailureBadges(lastCat)
			note = validation.SchemaSummary(res.SchemaErrors)
			log.Info("Schema rejected attempt", "attempt", attempt, "errors", len(res.SchemaErrors))

		case StatusSafetyBlocked:
			log.Info("Turn blocked by safety", "attempt", attempt)
			return r.fallback(in, validation.CategorySafety, attempt, false, res.ModelLabel), nil

		case StatusAPIError:
			sawAPIError = true
			if res.ErrorKind == services.KindRateLimit {
				rateLimited = true
			}
			lastCat = validation.CategoryAPI
			lastBadges = validation.FailureBadges(lastCat)
			if res.ErrorKind == services.KindPermanent {
				log.Error("Permanent LLM failure, using fallback", "attempt", attempt, "error", res.Err)
				return r.fallback(in, lastCat, attempt, false, res.ModelLabel), nil
			}
		}
	}

	repairs := attempt - 1
	limited := lastCat == validation.CategoryAPI && rateLimited
	log.Warn("Repair budget exhausted", "repairs", repairs, "category", lastCat, "rate_limited", limited)
	out := r.fallback(in, lastCat, repairs, limited, lastLabel)
	out.Badges = lastBadges
	out.Output.AgentConsole.Badges = lastBadges
	return out, nil
}

func (r *RepairLoop) fallback(in turn.TurnInput, cat validation.Category, repairs int, rateLimited bool, label turn.ModelLabel) Outcome {
	var out turn.TurnOutput
	if cat == validation.CategorySafety {
		out = SafetyFallback(in.Language, in.EconomySnapshot, repairs)
	} else {
		out = Fallback(in.Language, in.EconomySnapshot, repairs)
	}
	badges := validation.FailureBadges(cat)
	out.AgentConsole.Badges = badges
	return Outcome{
		Output:        out,
		Badges:        badges,
		RepairCount:   repairs,
		IsFallback:    true,
		IsRateLimited: rateLimited,
		ModelLabel:    label,
		Multiplier:    multiplierFor(label),
	}
}
