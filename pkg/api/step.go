package api

import (
	"errors"
	"fmt"

	"github.com/runhawk/engine/internal/util"
)

type (
	// StepKind discriminates the typed step union
	StepKind string

	// Args is a generic map of named values passed into and out of steps
	Args map[string]any

	// Step is one unit of work in a runbook. Exactly one of the
	// kind-specific config pointers is set, matching Kind
	Step struct {
		HTTP            *HTTPStepConfig        `json:"http,omitempty" yaml:"http,omitempty"`
		SQL             *SQLStepConfig         `json:"sql,omitempty" yaml:"sql,omitempty"`
		Script          *ScriptStepConfig      `json:"script,omitempty" yaml:"script,omitempty"`
		Manual          *ManualStepConfig      `json:"manual,omitempty" yaml:"manual,omitempty"`
		Conditional     *ConditionalStepConfig `json:"conditional,omitempty" yaml:"conditional,omitempty"`
		Parallel        *ParallelStepConfig    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
		AI              *AIStepConfig          `json:"ai,omitempty" yaml:"ai,omitempty"`
		Wait            *WaitStepConfig        `json:"wait,omitempty" yaml:"wait,omitempty"`
		Retry           *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
		ID              StepID                 `json:"id" yaml:"id"`
		Name            string                 `json:"name" yaml:"name"`
		Kind            StepKind               `json:"kind" yaml:"kind"`
		ContinueOnError bool                   `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
		TimeoutSeconds  int64                  `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
		RetryCount      int                    `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
		RetryDelayMs    int64                  `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	}

	// HTTPStepConfig describes an outbound HTTP call
	HTTPStepConfig struct {
		Method        string            `json:"method" yaml:"method"`
		URL           string            `json:"url" yaml:"url"`
		Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
		Body          string            `json:"body,omitempty" yaml:"body,omitempty"`
		AllowedStatus []int             `json:"allowed_status,omitempty" yaml:"allowed_status,omitempty"`
	}

	// SQLStepConfig describes a parameterized query against the configured
	// database connection
	SQLStepConfig struct {
		Query      string `json:"query" yaml:"query"`
		Params     []any  `json:"params,omitempty" yaml:"params,omitempty"`
		ExpectRows *int64 `json:"expect_rows,omitempty" yaml:"expect_rows,omitempty"`
	}

	// ScriptStepConfig describes a sandboxed script evaluated against the
	// execution context
	ScriptStepConfig struct {
		Language string `json:"language" yaml:"language"`
		Script   string `json:"script" yaml:"script"`
	}

	// ManualStepConfig describes a pause point requiring human sign-off
	ManualStepConfig struct {
		Approvers    []string `json:"approvers" yaml:"approvers"`
		Message      string   `json:"message,omitempty" yaml:"message,omitempty"`
		ExpiresInSec int64    `json:"expires_in_sec,omitempty" yaml:"expires_in_sec,omitempty"`
	}

	// ConditionalStepConfig evaluates a condition and recurses into one of
	// two child step lists
	ConditionalStepConfig struct {
		Condition Condition `json:"condition" yaml:"condition"`
		OnTrue    []*Step   `json:"on_true,omitempty" yaml:"on_true,omitempty"`
		OnFalse   []*Step   `json:"on_false,omitempty" yaml:"on_false,omitempty"`
	}

	// Condition is evaluated against the execution context
	Condition struct {
		Kind       ConditionKind `json:"kind" yaml:"kind"`
		Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
		StepID     StepID        `json:"step_id,omitempty" yaml:"step_id,omitempty"`
		Status     StepStatus    `json:"status,omitempty" yaml:"status,omitempty"`
		Variable   string        `json:"variable,omitempty" yaml:"variable,omitempty"`
		Operator   string        `json:"operator,omitempty" yaml:"operator,omitempty"`
		Value      any           `json:"value,omitempty" yaml:"value,omitempty"`
	}

	// ConditionKind selects how a conditional step evaluates
	ConditionKind string

	// ParallelStepConfig fans out its child steps concurrently
	ParallelStepConfig struct {
		Steps          []*Step          `json:"steps" yaml:"steps"`
		FailOnAnyError bool             `json:"fail_on_any_error,omitempty" yaml:"fail_on_any_error,omitempty"`
		Completion     CompletionPolicy `json:"completion,omitempty" yaml:"completion,omitempty"`
	}

	// CompletionPolicy governs when a parallel step is considered complete
	CompletionPolicy string

	// AIStepConfig sends a prompt to the analysis backend
	AIStepConfig struct {
		Prompt    string `json:"prompt" yaml:"prompt"`
		Model     string `json:"model,omitempty" yaml:"model,omitempty"`
		MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	}

	// WaitStepConfig sleeps for a fixed duration
	WaitStepConfig struct {
		DurationMs int64 `json:"duration_ms" yaml:"duration_ms"`
	}
)

const (
	StepKindHTTP        StepKind = "http"
	StepKindSQL         StepKind = "sql"
	StepKindShell       StepKind = "shell"
	StepKindScript      StepKind = "script"
	StepKindManual      StepKind = "manual"
	StepKindConditional StepKind = "conditional"
	StepKindParallel    StepKind = "parallel"
	StepKindAI          StepKind = "ai"
	StepKindWait        StepKind = "wait"
)

const (
	ConditionKindExpression ConditionKind = "expression"
	ConditionKindStepStatus ConditionKind = "step_status"
	ConditionKindVariable   ConditionKind = "variable"
)

const (
	CompletionWaitAll      CompletionPolicy = "wait_all"
	CompletionFirstSuccess CompletionPolicy = "first_success"
)

const (
	ScriptLangLua = "lua"

	// DefaultStepTimeoutSec bounds an executor call when the step does
	// not declare its own timeout
	DefaultStepTimeoutSec int64 = 300

	DefaultHTTPMethod = "GET"
)

var (
	ErrStepIDEmpty        = errors.New("step ID empty")
	ErrStepNameEmpty      = errors.New("step name empty")
	ErrInvalidStepKind    = errors.New("invalid step kind")
	ErrStepKindReserved   = errors.New("step kind reserved")
	ErrStepConfigMissing  = errors.New("step config missing for kind")
	ErrStepURLEmpty       = errors.New("http step url empty")
	ErrQueryEmpty         = errors.New("sql step query empty")
	ErrScriptEmpty        = errors.New("script step script empty")
	ErrScriptLangEmpty    = errors.New("script step language empty")
	ErrScriptLangUnknown  = errors.New("unknown script language")
	ErrApproversEmpty     = errors.New("manual step approvers empty")
	ErrConditionKind      = errors.New("invalid condition kind")
	ErrConditionEmpty     = errors.New("condition has no expression")
	ErrParallelEmpty      = errors.New("parallel step has no children")
	ErrCompletionPolicy   = errors.New("invalid completion policy")
	ErrPromptEmpty        = errors.New("ai step prompt empty")
	ErrWaitDuration       = errors.New("wait duration must be positive")
	ErrNegativeTimeout    = errors.New("timeout_seconds cannot be negative")
	ErrNegativeRetry      = errors.New("retry_count cannot be negative")
	ErrNegativeRetryDelay = errors.New("retry_delay_ms cannot be negative")
)

var (
	validStepKinds = util.SetOf(
		StepKindHTTP,
		StepKindSQL,
		StepKindScript,
		StepKindManual,
		StepKindConditional,
		StepKindParallel,
		StepKindAI,
		StepKindWait,
	)

	validConditionKinds = util.SetOf(
		ConditionKindExpression,
		ConditionKindStepStatus,
		ConditionKindVariable,
	)

	validCompletionPolicies = util.SetOf(
		CompletionWaitAll,
		CompletionFirstSuccess,
	)

	// DefaultAllowedStatus is the HTTP status allow-list applied when a
	// step does not configure one
	DefaultAllowedStatus = []int{200, 201, 204}
)

// Validate checks the step and, recursively, any nested child steps
func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrStepIDEmpty
	}
	if s.Name == "" {
		return fmt.Errorf("%w: %s", ErrStepNameEmpty, s.ID)
	}
	if s.Kind == StepKindShell {
		return fmt.Errorf("%w: %s", ErrStepKindReserved, s.Kind)
	}
	if !validStepKinds.Contains(s.Kind) {
		return fmt.Errorf("%w: %s", ErrInvalidStepKind, s.Kind)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeTimeout, s.ID)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeRetry, s.ID)
	}
	if s.RetryDelayMs < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeRetryDelay, s.ID)
	}
	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	return s.validateConfig()
}

func (s *Step) validateConfig() error {
	switch s.Kind {
	case StepKindHTTP:
		return s.validateHTTP()
	case StepKindSQL:
		return s.validateSQL()
	case StepKindScript:
		return s.validateScript()
	case StepKindManual:
		return s.validateManual()
	case StepKindConditional:
		return s.validateConditional()
	case StepKindParallel:
		return s.validateParallel()
	case StepKindAI:
		return s.validateAI()
	case StepKindWait:
		return s.validateWait()
	}
	return nil
}

func (s *Step) validateHTTP() error {
	if s.HTTP == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if s.HTTP.URL == "" {
		return fmt.Errorf("%w: %s", ErrStepURLEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateSQL() error {
	if s.SQL == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if s.SQL.Query == "" {
		return fmt.Errorf("%w: %s", ErrQueryEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateScript() error {
	if s.Script == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if s.Script.Language == "" {
		return fmt.Errorf("%w: %s", ErrScriptLangEmpty, s.ID)
	}
	if s.Script.Language != ScriptLangLua {
		return fmt.Errorf("%w: %s", ErrScriptLangUnknown, s.Script.Language)
	}
	if s.Script.Script == "" {
		return fmt.Errorf("%w: %s", ErrScriptEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateManual() error {
	if s.Manual == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if len(s.Manual.Approvers) == 0 {
		return fmt.Errorf("%w: %s", ErrApproversEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateConditional() error {
	if s.Conditional == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	cond := s.Conditional.Condition
	if !validConditionKinds.Contains(cond.Kind) {
		return fmt.Errorf("%w: %s", ErrConditionKind, cond.Kind)
	}
	if cond.Kind == ConditionKindExpression && cond.Expression == "" {
		return fmt.Errorf("%w: %s", ErrConditionEmpty, s.ID)
	}
	for _, child := range s.Conditional.OnTrue {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	for _, child := range s.Conditional.OnFalse {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) validateParallel() error {
	if s.Parallel == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if len(s.Parallel.Steps) == 0 {
		return fmt.Errorf("%w: %s", ErrParallelEmpty, s.ID)
	}
	if s.Parallel.Completion != "" &&
		!validCompletionPolicies.Contains(s.Parallel.Completion) {
		return fmt.Errorf("%w: %s", ErrCompletionPolicy, s.Parallel.Completion)
	}
	for _, child := range s.Parallel.Steps {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) validateAI() error {
	if s.AI == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if s.AI.Prompt == "" {
		return fmt.Errorf("%w: %s", ErrPromptEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateWait() error {
	if s.Wait == nil {
		return fmt.Errorf("%w: %s", ErrStepConfigMissing, s.Kind)
	}
	if s.Wait.DurationMs <= 0 {
		return fmt.Errorf("%w: %s", ErrWaitDuration, s.ID)
	}
	return nil
}

// Children returns the nested child step lists of a conditional or
// parallel step, in document order
func (s *Step) Children() [][]*Step {
	switch s.Kind {
	case StepKindConditional:
		if s.Conditional == nil {
			return nil
		}
		return [][]*Step{s.Conditional.OnTrue, s.Conditional.OnFalse}
	case StepKindParallel:
		if s.Parallel == nil {
			return nil
		}
		return [][]*Step{s.Parallel.Steps}
	}
	return nil
}

// FlattenCount returns the number of steps in the tree rooted at s,
// including s itself and all nested children
func (s *Step) FlattenCount() int {
	n := 1
	for _, list := range s.Children() {
		n += FlattenCount(list)
	}
	return n
}

// FlattenCount returns the total number of steps in a step list,
// including all nested conditional and parallel children
func FlattenCount(steps []*Step) int {
	n := 0
	for _, s := range steps {
		n += s.FlattenCount()
	}
	return n
}

// Timeout returns the step's configured timeout in seconds, falling back
// to the engine default
func (s *Step) Timeout() int64 {
	if s.TimeoutSeconds > 0 {
		return s.TimeoutSeconds
	}
	return DefaultStepTimeoutSec
}

// AllowedStatusSet returns the configured HTTP status allow-list or the
// default set
func (c *HTTPStepConfig) AllowedStatusSet() util.Set[int] {
	if len(c.AllowedStatus) > 0 {
		return util.SetOf(c.AllowedStatus...)
	}
	return util.SetOf(DefaultAllowedStatus...)
}

// CompletionPolicy returns the configured policy, defaulting to wait_all
func (c *ParallelStepConfig) CompletionPolicy() CompletionPolicy {
	if c.Completion == "" {
		return CompletionWaitAll
	}
	return c.Completion
}
