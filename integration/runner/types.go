package runner

import (
	"time"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// Special text values that trigger non-turn actions
const (
	ResetSessionPrompt = "RESET_SESSION"
)

// TestSuite defines a complete integration test scenario.
// Can either be a regular test with Steps, or a suite that references other Cases.
type TestSuite struct {
	Name     string              `json:"name"`
	Language turn.Language       `json:"language,omitempty"`
	Snapshot turn.CurrencyAmount `json:"economy_snapshot"`
	Steps    []TestStep          `json:"steps,omitempty"`
	Cases    []string            `json:"cases,omitempty"`
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is one turn. Empty fields inherit from the suite; the economy
// snapshot carries over from the previous final output.
type TestStep struct {
	Name         string           `json:"name,omitempty"`
	Text         string           `json:"text"`
	ActionID     string           `json:"action_id,omitempty"`
	Language     turn.Language    `json:"language,omitempty"`
	Click        *turn.ClickInput `json:"click,omitempty"`
	Seed         *int64           `json:"seed,omitempty"`
	Expectations Expectations     `json:"expect"`
}

// Expectations defines what to check after a turn stream ends
type Expectations struct {
	ErrorCode      string         `json:"error_code,omitempty"`
	Badges         []turn.Badge   `json:"badges,omitempty"`
	Language       *turn.Language `json:"language,omitempty"`
	ModelLabel     *string        `json:"model_label,omitempty"`
	MaxRepairs     *int           `json:"max_repairs,omitempty"`
	MaxObjects     *int           `json:"max_objects,omitempty"`
	MinActionCards *int           `json:"min_action_cards,omitempty"`
	Blocked        *bool          `json:"blocked,omitempty"`
	ImageGenerated *bool          `json:"image_generated,omitempty"`

	NarrativeContains    []string `json:"narrative_contains,omitempty"`
	NarrativeNotContains []string `json:"narrative_not_contains,omitempty"`
	NarrativeRegex       string   `json:"narrative_regex,omitempty"`
	NarrativeMinLength   *int     `json:"narrative_min_length,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName  string
	StepName  string
	Success   bool
	Error     error
	Duration  time.Duration
	Narrative string
	RequestID string
	IsReset   bool // RESET_SESSION steps do not count toward pass/fail metrics
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job       TestJob
	Results   []TestResult
	Error     error
	Duration  time.Duration
	SessionID string
}
