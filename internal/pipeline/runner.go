package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jwebster45206/unknown-world/internal/history"
	"github.com/jwebster45206/unknown-world/internal/orchestrator"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const DefaultDeadline = 60 * time.Second

// Deps are the collaborators the stages call. Only Repair is required.
type Deps struct {
	Repair  *orchestrator.RepairLoop
	History history.Store
	Vision  services.VisionService
	Images  services.ImageGenerator
	IsMock  bool
	Logger  *slog.Logger
}

type Options struct {
	Deadline           time.Duration
	PacingDelay        time.Duration
	GenerateImages     bool
	HotspotMinDistance float64
	HotspotMaxCount    int
}

// Runner composes the stages and owns the terminal event of every request.
type Runner struct {
	deps Deps
	opts Options
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.HotspotMinDistance <= 0 {
		opts.HotspotMinDistance = turn.HotspotMinDistance
	}
	if opts.HotspotMaxCount <= 0 {
		opts.HotspotMaxCount = turn.HotspotMaxCount
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{deps: deps, opts: opts}
}

// IsMock reports whether turns are served by the mock backend.
func (r *Runner) IsMock() bool { return r.deps.IsMock }

func (r *Runner) logger(pc *Context) *slog.Logger {
	return r.deps.Logger.With("request_id", pc.RequestID, "session_id", pc.Input.SessionID, "phase", pc.Phase)
}

var rateLimitMessages = map[turn.Language]string{
	turn.LanguageKO: "요청이 많아 잠시 응답할 수 없습니다. 잠시 후 다시 시도해 주세요.",
	turn.LanguageEN: "The narrator is busy right now. Please try again in a moment.",
}

// Run processes one turn. Every emitted stream ends with exactly one final
// or error event, and no panic escapes.
func (r *Runner) Run(ctx context.Context, requestID string, in turn.TurnInput, emit Emit) *Context {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Deadline)
	defer cancel()

	pc := NewContext(requestID, in, r.deps.IsMock)
	start := time.Now()
	log := r.deps.Logger.With("request_id", requestID, "session_id", in.SessionID)

	for _, st := range r.stages() {
		if ctx.Err() != nil {
			r.abort(pc, ctx.Err(), emit, log)
			return pc
		}
		pc.Phase = st.Phase
		if pc.Output != nil {
			pc.Output.AgentConsole.CurrentPhase = st.Phase
		}
		emit(StageEvent(st.Phase, StageStart))

		if err := r.runStage(ctx, st, pc, emit); err != nil {
			emit(StageEvent(st.Phase, StageFail))
			switch {
			case errors.Is(err, ErrRateLimited):
				log.Warn("Turn ended by rate limiting", "repairs", pc.RepairAttempts)
				emit(ErrorEvent(CodeRateLimited, rateLimitMessages[in.Language]))
			case ctx.Err() != nil:
				r.abort(pc, ctx.Err(), emit, log)
			default:
				log.Error("Stage failed, using fallback", "phase", st.Phase, "error", err)
				r.substituteFallback(pc)
				emit(FinalEvent(*pc.Output))
			}
			return pc
		}
		emit(StageEvent(st.Phase, StageComplete))
	}

	log.Info("Turn completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"model_label", pc.ModelLabel,
		"cost_multiplier", pc.CostMultiplier,
		"repairs", pc.RepairAttempts,
		"fallback", pc.IsFallback,
		"vision", pc.IsVision,
	)
	emit(FinalEvent(*pc.Output))
	return pc
}

// runStage runs one stage body, turning a panic into an error.
func (r *Runner) runStage(ctx context.Context, st Stage, pc *Context, emit Emit) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger(pc).Error("Stage panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("stage %s panicked: %v", st.Phase, rec)
		}
	}()
	if pc.Output == nil && st.Phase != turn.PhaseParse && st.Phase != turn.PhaseValidate {
		return fmt.Errorf("stage %s reached without an output", st.Phase)
	}
	return st.Run(ctx, pc, emit)
}

// abort ends a cancelled or timed-out request: with whatever output exists,
// or with an INTERNAL error when there is none.
func (r *Runner) abort(pc *Context, cause error, emit Emit, log *slog.Logger) {
	if pc.Output != nil {
		log.Warn("Turn deadline reached, sending partial output", "phase", pc.Phase, "error", cause)
		emit(FinalEvent(*pc.Output))
		return
	}
	log.Warn("Turn aborted before an output existed", "phase", pc.Phase, "error", cause)
	msg := "request cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "request deadline exceeded"
	}
	emit(ErrorEvent(CodeInternal, msg))
}

func (r *Runner) substituteFallback(pc *Context) {
	fb := orchestrator.Fallback(pc.Input.Language, pc.Snapshot, pc.RepairAttempts)
	pc.Badges = validation.FailureBadges(validation.CategoryConsistency)
	fb.AgentConsole.Badges = pc.Badges
	fb.AgentConsole.CurrentPhase = pc.Phase
	pc.Output = &fb
	pc.IsFallback = true
}
