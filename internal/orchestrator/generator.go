// Package orchestrator turns one TurnInput into a validated TurnOutput: it
// builds the model input, calls the LLM, parses the structured response and
// retries with an error summary until the output passes every rule.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/pkg/chat"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/schema"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type Status string

const (
	StatusSuccess       Status = "success"
	StatusSchemaFailure Status = "schema_failure"
	StatusSafetyBlocked Status = "safety_blocked"
	StatusAPIError      Status = "api_error"
)

// GenerationResult is the outcome of one model attempt.
type GenerationResult struct {
	Status           Status
	Output           *turn.TurnOutput
	SchemaErrors     []schema.FieldError
	ErrorKind        services.ErrorKind
	Err              error
	ModelLabel       turn.ModelLabel
	Multiplier       float64
	ThoughtSignature []byte
	Usage            services.Usage
}

// GenerateOptions adjusts a single attempt.
type GenerateOptions struct {
	History    []chat.Message
	RepairNote string
	// Label overrides tier selection, as after a downgrade.
	Label turn.ModelLabel
}

// Generator performs one model attempt per call.
type Generator struct {
	client   services.LLMClient
	prompts  services.PromptSource
	registry *models.Registry
	logger   *slog.Logger
}

func NewGenerator(client services.LLMClient, prompts services.PromptSource, registry *models.Registry, logger *slog.Logger) *Generator {
	return &Generator{client: client, prompts: prompts, registry: registry, logger: logger}
}

// Client returns the backend in use.
func (g *Generator) Client() services.LLMClient { return g.client }

func (g *Generator) Registry() *models.Registry { return g.registry }

func multiplierFor(label turn.ModelLabel) float64 {
	switch label {
	case turn.ModelQuality:
		return models.MultiplierQuality
	case turn.ModelVision:
		return models.MultiplierVision
	}
	return models.MultiplierFast
}

func (g *Generator) builder(in turn.TurnInput, opts GenerateOptions) (*prompts.Builder, error) {
	load := func(category prompts.Category, name string) (string, error) {
		text, err := g.prompts.Load(category, name, in.Language)
		if err != nil {
			return "", fmt.Errorf("failed to load prompt %s/%s: %w", category, name, err)
		}
		return text, nil
	}
	system, err := load(prompts.CategorySystem, prompts.NameGameMaster)
	if err != nil {
		return nil, err
	}
	instructions, err := load(prompts.CategoryTurn, prompts.NameTurnInstructions)
	if err != nil {
		return nil, err
	}
	images, err := load(prompts.CategoryImage, prompts.NameImageGuidelines)
	if err != nil {
		return nil, err
	}
	return prompts.New(in.Language).
		WithSystemPrompt(system).
		WithTurnInstructions(instructions).
		WithImageGuidelines(images).
		WithWorldContext(in.WorldContext).
		WithSceneContext(in.SceneContext).
		WithEconomy(in.EconomySnapshot).
		WithAction(in.Utterance(), in.ActionID).
		WithHistory(opts.History).
		WithRepairNote(opts.RepairNote), nil
}

// Generate runs one attempt and classifies its outcome. It never returns a
// Go error; failures are carried in the result.
func (g *Generator) Generate(ctx context.Context, in turn.TurnInput, opts GenerateOptions) GenerationResult {
	sel := g.registry.SelectTier(in)
	if opts.Label != "" && opts.Label != sel.Label {
		sel = models.Selection{Label: opts.Label, Multiplier: multiplierFor(opts.Label)}
	}
	result := GenerationResult{ModelLabel: sel.Label, Multiplier: sel.Multiplier}

	b, err := g.builder(in, opts)
	if err != nil {
		result.Status, result.ErrorKind, result.Err = StatusAPIError, services.KindPermanent, err
		return result
	}

	input := in
	req := services.Request{
		ModelLabel:       sel.Label,
		Temperature:      services.DefaultTemperature,
		MaxTokens:        services.DefaultMaxTokens,
		ResponseMIMEType: services.MIMEApplicationJSON,
		ResponseSchema:   turn.OutputSchemaJSON(),
		Input:            &input,
	}
	var promptText string
	if b.HasHistory() {
		req.SystemInstruction, req.Contents = b.BuildContents()
		promptText = req.SystemInstruction + b.UserMessage()
	} else {
		req.Prompt = b.BuildPrompt()
		promptText = req.Prompt
	}

	log := g.logger.With(
		"model_label", sel.Label,
		"prompt_hash", prompts.Hash(promptText),
		"prompt_len", len(promptText),
		"history_messages", len(opts.History),
		"repair", opts.RepairNote != "",
	)
	log.Debug("Calling LLM")

	resp, err := g.client.Generate(ctx, req)
	if err != nil {
		var le *services.LLMError
		if !errors.As(err, &le) {
			le = services.NewLLMError(err)
		}
		result.ErrorKind, result.Err = le.Kind, err
		if le.Kind == services.KindSafetyBlock {
			result.Status = StatusSafetyBlocked
		} else {
			result.Status = StatusAPIError
		}
		log.Warn("LLM call failed", "kind", le.Kind, "status_code", le.StatusCode, "error", err)
		return result
	}
	result.Usage = resp.Usage
	result.ThoughtSignature = resp.ThoughtSignature

	out, fieldErrs := turn.ParseOutput([]byte(turn.StripCodeFences(resp.Text)))
	if len(fieldErrs) > 0 {
		result.Status = StatusSchemaFailure
		result.SchemaErrors = fieldErrs
		log.Info("LLM response failed schema validation", "errors", len(fieldErrs), "first", fieldErrs[0].Location)
		return result
	}

	if out.Render.ImageURL == "" && in.SceneImageURL != "" {
		out.Render.ImageURL = in.SceneImageURL
	}
	result.Output = &out
	if out.Safety.Blocked {
		result.Status = StatusSafetyBlocked
		return result
	}
	result.Status = StatusSuccess
	log.Debug("LLM response parsed", "total_tokens", resp.Usage.TotalTokens, "finish_reason", resp.FinishReason)
	return result
}
