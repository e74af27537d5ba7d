package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{},
		Timeout:           90 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	if suite.Language == "" {
		suite.Language = turn.LanguageKO
	}
	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}
		jobs = append(jobs, subJobs...)
	}
	return jobs, nil
}

// RunSuite plays every step of a suite in one session.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job:       TestJob{Name: suite.Name, Suite: suite},
		Results:   make([]TestResult, 0, len(suite.Steps)),
		SessionID: uuid.NewString(),
	}

	snapshot := suite.Snapshot
	for i, step := range suite.Steps {
		if step.Text == ResetSessionPrompt {
			result.SessionID = uuid.NewString()
			snapshot = suite.Snapshot
			result.Results = append(result.Results, TestResult{TestName: suite.Name, StepName: step.Name, Success: true, IsReset: true})
			continue
		}

		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult, final := r.runStep(ctx, suite, result.SessionID, snapshot, step)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}
		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
		if final != nil {
			snapshot = final.Economy.BalanceAfter
		}
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

func (r *Runner) runStep(ctx context.Context, suite TestSuite, sessionID string, snapshot turn.CurrencyAmount, step TestStep) (TestResult, *turn.TurnOutput) {
	start := time.Now()
	res := TestResult{TestName: suite.Name, StepName: step.Name}

	lang := step.Language
	if lang == "" {
		lang = suite.Language
	}
	in := turn.TurnInput{
		Language:        lang,
		Text:            step.Text,
		ActionID:        step.ActionID,
		Click:           step.Click,
		EconomySnapshot: snapshot,
		SessionID:       sessionID,
		Seed:            step.Seed,
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	events, requestID, err := r.postTurn(stepCtx, in)
	res.RequestID = requestID
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err
		return res, nil
	}

	final, err := checkStream(events)
	if err == nil {
		err = checkExpectations(step.Expectations, events, final)
	}
	if final != nil {
		res.Narrative = final.Narrative
	}
	res.Error = err
	res.Success = err == nil
	return res, final
}

// postTurn sends one turn and decodes the whole NDJSON stream.
func (r *Runner) postTurn(ctx context.Context, in turn.TurnInput) ([]pipeline.Event, string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal turn: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/turn", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send turn: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	requestID := resp.Header.Get(middleware.RequestIDHeader)

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		return nil, requestID, fmt.Errorf("unexpected content type %q (status %d)", ct, resp.StatusCode)
	}

	var events []pipeline.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev pipeline.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return events, requestID, fmt.Errorf("malformed stream line %q: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, requestID, fmt.Errorf("error reading stream: %w", err)
	}
	return events, requestID, nil
}

// checkStream verifies the ordering rules every stream must satisfy and
// returns the final output, if any.
func checkStream(events []pipeline.Event) (*turn.TurnOutput, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("empty stream")
	}
	last := events[len(events)-1]
	if !last.IsTerminal() {
		return nil, fmt.Errorf("stream ended with %q instead of final or error", last.Type)
	}

	next := 0
	open := false
	for i, ev := range events {
		if ev.IsTerminal() && i != len(events)-1 {
			return nil, fmt.Errorf("terminal event %q at position %d of %d", ev.Type, i+1, len(events))
		}
		if ev.Type != pipeline.EventStage {
			continue
		}
		switch ev.Status {
		case pipeline.StageStart:
			if open || next >= len(turn.Phases) || ev.Name != turn.Phases[next] {
				return nil, fmt.Errorf("stage %s started out of order", ev.Name)
			}
			open = true
		default:
			if !open || ev.Name != turn.Phases[next] {
				return nil, fmt.Errorf("stage %s closed without start", ev.Name)
			}
			open = false
			next++
		}
	}

	if last.Type == pipeline.EventFinal {
		if last.Data == nil {
			return nil, fmt.Errorf("final event without data")
		}
		return last.Data, nil
	}
	return nil, nil
}

func checkExpectations(exp Expectations, events []pipeline.Event, final *turn.TurnOutput) error {
	last := events[len(events)-1]
	if exp.ErrorCode != "" {
		if last.Type != pipeline.EventError || string(last.Code) != exp.ErrorCode {
			return fmt.Errorf("expected error %s, stream ended with %s %s", exp.ErrorCode, last.Type, last.Code)
		}
		return nil
	}
	if final == nil {
		return fmt.Errorf("expected final output, got error %s: %s", last.Code, last.Message)
	}

	for _, b := range exp.Badges {
		if !slices.Contains(final.AgentConsole.Badges, b) {
			return fmt.Errorf("badge %s missing from %v", b, final.AgentConsole.Badges)
		}
	}
	if exp.Language != nil && final.Language != *exp.Language {
		return fmt.Errorf("expected language %s, got %s", *exp.Language, final.Language)
	}
	if exp.ModelLabel != nil && string(final.AgentConsole.ModelLabel) != *exp.ModelLabel {
		return fmt.Errorf("expected model %s, got %s", *exp.ModelLabel, final.AgentConsole.ModelLabel)
	}
	if exp.MaxRepairs != nil && final.AgentConsole.RepairCount > *exp.MaxRepairs {
		return fmt.Errorf("expected at most %d repairs, got %d", *exp.MaxRepairs, final.AgentConsole.RepairCount)
	}
	if exp.MaxObjects != nil && len(final.UI.Objects) > *exp.MaxObjects {
		return fmt.Errorf("expected at most %d hotspots, got %d", *exp.MaxObjects, len(final.UI.Objects))
	}
	if exp.MinActionCards != nil && len(final.UI.ActionDeck.Cards) < *exp.MinActionCards {
		return fmt.Errorf("expected at least %d action cards, got %d", *exp.MinActionCards, len(final.UI.ActionDeck.Cards))
	}
	if exp.Blocked != nil && final.Safety.Blocked != *exp.Blocked {
		return fmt.Errorf("expected blocked=%v", *exp.Blocked)
	}
	if exp.ImageGenerated != nil && (final.Render.ImageURL != "") != *exp.ImageGenerated {
		return fmt.Errorf("expected image_generated=%v, image_url=%q", *exp.ImageGenerated, final.Render.ImageURL)
	}

	narrative := final.Narrative
	for _, s := range exp.NarrativeContains {
		if !strings.Contains(narrative, s) {
			return fmt.Errorf("narrative does not contain %q", s)
		}
	}
	for _, s := range exp.NarrativeNotContains {
		if strings.Contains(narrative, s) {
			return fmt.Errorf("narrative unexpectedly contains %q", s)
		}
	}
	if exp.NarrativeRegex != "" {
		re, err := regexp.Compile(exp.NarrativeRegex)
		if err != nil {
			return fmt.Errorf("invalid narrative_regex: %w", err)
		}
		if !re.MatchString(narrative) {
			return fmt.Errorf("narrative does not match %q", exp.NarrativeRegex)
		}
	}
	if exp.NarrativeMinLength != nil && len([]rune(narrative)) < *exp.NarrativeMinLength {
		return fmt.Errorf("narrative shorter than %d runes", *exp.NarrativeMinLength)
	}

	if final.Economy.BalanceAfter.Signal < 0 || final.Economy.BalanceAfter.MemoryShard < 0 {
		return fmt.Errorf("negative balance %+v", final.Economy.BalanceAfter)
	}
	return nil
}
