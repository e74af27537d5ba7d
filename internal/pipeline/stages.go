package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/orchestrator"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// ErrRateLimited ends a turn with a RATE_LIMITED error and no final output.
var ErrRateLimited = errors.New("llm rate limit exhausted")

// Stage is one pipeline step.
type Stage struct {
	Phase turn.Phase
	Run   func(ctx context.Context, pc *Context, emit Emit) error
}

var visionNarratives = map[turn.Language]string{
	turn.LanguageKO: "장면을 자세히 살펴봅니다.",
	turn.LanguageEN: "You take a closer look at the scene.",
}

func (r *Runner) stages() []Stage {
	return []Stage{
		{turn.PhaseParse, r.parse},
		{turn.PhaseValidate, r.validate},
		{turn.PhasePlan, r.plan},
		{turn.PhaseResolve, r.resolve},
		{turn.PhaseRender, r.render},
		{turn.PhaseVerify, r.verify},
		{turn.PhaseCommit, r.commit},
	}
}

func (r *Runner) pace(ctx context.Context) error {
	if r.opts.PacingDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.opts.PacingDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parse has nothing to do: the input was decoded before the pipeline ran.
// It loads the session history the later stages need.
func (r *Runner) parse(ctx context.Context, pc *Context, emit Emit) error {
	pc.IsVision = r.deps.Repair.Generator().Registry().IsVisionTrigger(pc.Input)
	if r.deps.History == nil || pc.Input.SessionID == "" {
		return nil
	}
	msgs, err := r.deps.History.GetContents(ctx, pc.Input.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger(pc).Warn("Failed to load history, continuing without it", "error", err)
		return nil
	}
	pc.History = msgs
	return nil
}

func (r *Runner) validate(ctx context.Context, pc *Context, emit Emit) error {
	outcome, err := r.deps.Repair.Run(ctx, pc.Input, pc.History, func(ev orchestrator.RepairEvent) {
		pc.RepairMessages = append(pc.RepairMessages, ev.Message)
		emit(RepairEvent(ev.Attempt, ev.Message))
	})
	if err != nil {
		return err
	}

	out := outcome.Output
	pc.Output = &out
	pc.Badges = outcome.Badges
	pc.RepairAttempts = outcome.RepairCount
	pc.IsFallback = outcome.IsFallback
	pc.IsRateLimited = outcome.IsRateLimited
	pc.ModelLabel = outcome.ModelLabel
	pc.CostMultiplier = outcome.Multiplier
	pc.ThoughtSignature = outcome.ThoughtSignature
	pc.ModelText = outcome.ModelText

	emit(BadgesEvent(pc.Badges))
	if pc.IsRateLimited {
		return ErrRateLimited
	}
	return nil
}

// plan is reserved for action planning and only paces the stream.
func (r *Runner) plan(ctx context.Context, pc *Context, emit Emit) error {
	return r.pace(ctx)
}

func (r *Runner) resolve(ctx context.Context, pc *Context, emit Emit) error {
	out := pc.Output
	if !pc.IsVision || out.Render.ImageURL == "" || r.deps.Vision == nil {
		out.UI.Objects = []turn.SceneObject{}
		return nil
	}

	affordances, err := r.deps.Vision.DetectAffordances(ctx, services.VisionRequest{
		ImageURL: out.Render.ImageURL,
		Language: pc.Input.Language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger(pc).Warn("Scene analysis failed, no hotspots added", "error", err)
		out.UI.Objects = []turn.SceneObject{}
		return nil
	}

	candidates := append([]turn.SceneObject(nil), out.UI.Objects...)
	for i, a := range affordances {
		box, _ := a.Box2D.Corrected()
		candidates = append(candidates, turn.SceneObject{
			ID:              fmt.Sprintf("hotspot-%d", i+1),
			Label:           a.Label,
			Box2D:           box,
			InteractionHint: a.InteractionHint,
		})
	}
	out.UI.Objects = turn.FilterHotspots(candidates, r.opts.HotspotMinDistance, r.opts.HotspotMaxCount)

	sentence := visionNarratives[pc.Input.Language]
	if !strings.Contains(out.Narrative, sentence) {
		out.Narrative = strings.TrimSpace(out.Narrative + " " + sentence)
	}
	if out.Render.ImageJob != nil {
		out.Render.ImageJob.ShouldGenerate = false
	}
	pc.CostMultiplier = models.MultiplierVision
	r.logger(pc).Info("Hotspots resolved", "candidates", len(candidates), "kept", len(out.UI.Objects))
	return nil
}

func (r *Runner) render(ctx context.Context, pc *Context, emit Emit) error {
	out := pc.Output
	decision := DecideImageGeneration(*out, pc.Snapshot, pc.Input.Language)
	pc.ImageDecision = &decision
	log := r.logger(pc).With("reason", decision.Reason, "prompt_hash", decision.PromptHash)

	if decision.ShouldGenerate && r.opts.GenerateImages && r.deps.Images != nil {
		job := out.Render.ImageJob
		res, err := r.deps.Images.Generate(ctx, services.ImageRequest{
			Prompt:            job.Prompt,
			AspectRatio:       decision.AspectRatio,
			Size:              job.Size,
			ReferenceImageURL: job.ReferenceImageURL,
			Language:          pc.Input.Language,
		})
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("Image generation failed, render left unchanged", "error", err)
		default:
			out.Render.ImageURL = res.URL
			out.Render.ImageID = res.ID
			out.Render.GenerationTimeMS = res.GenerationTimeMS
			out.Render.BackgroundRemoved = res.BackgroundRemoved
			log.Info("Scene image generated", "image_id", res.ID, "generation_time_ms", res.GenerationTimeMS)
		}
	} else {
		log.Debug("Image generation skipped")
	}
	return r.pace(ctx)
}

// verify strips hotspots from non-vision turns again and re-checks the
// invariants every final output must hold.
func (r *Runner) verify(ctx context.Context, pc *Context, emit Emit) error {
	out := pc.Output
	if !pc.IsVision {
		out.UI.Objects = []turn.SceneObject{}
	}
	if problems := selfCheck(out, pc.Input); len(problems) > 0 {
		r.logger(pc).Warn("Output failed self-check, using fallback", "problems", strings.Join(problems, "; "))
		fb := orchestrator.Fallback(pc.Input.Language, pc.Snapshot, pc.RepairAttempts)
		pc.Badges = validation.FailureBadges(validation.CategoryConsistency)
		fb.AgentConsole.Badges = pc.Badges
		pc.Output = &fb
		pc.IsFallback = true
		emit(BadgesEvent(pc.Badges))
	}
	return r.pace(ctx)
}

func selfCheck(out *turn.TurnOutput, in turn.TurnInput) []string {
	var problems []string
	if out.Language != in.Language {
		problems = append(problems, "language differs from input")
	}
	if out.Economy.BalanceAfter.Signal < 0 || out.Economy.BalanceAfter.MemoryShard < 0 {
		problems = append(problems, "negative balance")
	}
	for _, obj := range out.UI.Objects {
		if !obj.Box2D.Valid() {
			problems = append(problems, "invalid box "+obj.ID)
		}
	}
	if out.Safety.Blocked && (len(out.UI.ActionDeck.Cards) > 0 || len(out.UI.Objects) > 0 || out.Economy.Cost != (turn.CurrencyAmount{})) {
		problems = append(problems, "blocked turn has actions or cost")
	}
	return problems
}

func (r *Runner) commit(ctx context.Context, pc *Context, emit Emit) error {
	pc.Output.AgentConsole.CurrentPhase = turn.PhaseCommit
	pc.Output.AgentConsole.Badges = pc.Badges
	if r.deps.History != nil && pc.Input.SessionID != "" && !pc.IsFallback && pc.ModelText != "" {
		ex := chat.Exchange{User: pc.Input.Utterance(), Model: pc.ModelText, ThoughtSignature: pc.ThoughtSignature}
		if err := r.deps.History.AddTurn(ctx, pc.Input.SessionID, ex); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger(pc).Warn("Failed to store history", "error", err)
		}
	}
	return r.pace(ctx)
}
