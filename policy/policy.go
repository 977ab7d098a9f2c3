// Package policy implements budget enforcement for a running execution:
// max steps, max tokens, max tool calls, and a wall-clock timeout. It
// follows the validated, defaulted Options struct and constructor shape of
// goa-ai's features/policy/basic.Engine ("New(opts) (*Engine, error)", even
// where construction cannot currently fail, for interface stability),
// merged with the budget semantics of spec.md §4.4.
package policy

import (
	"context"
	"time"

	"github.com/yashsham/open-agent-orchestrator/retry"
)

// Budget enumerates the kinds of budget a Policy can enforce, used to name
// the breached budget in a Violation.
type Budget string

const (
	BudgetTimeout   Budget = "timeout"
	BudgetSteps     Budget = "steps"
	BudgetTokens    Budget = "tokens"
	BudgetToolCalls Budget = "tool_calls"
)

// Violation reports that context breached one budget. Exactly one budget
// is named even when several are simultaneously breached: checks run in
// the fixed tie-break order timeout → steps → tokens → tool-calls, and the
// first breach found wins.
type Violation struct {
	Budget Budget
	Limit  int64
	Actual int64
}

func (v *Violation) Error() string {
	return "policy: " + string(v.Budget) + " budget exceeded"
}

// Options configures a Policy. Zero values for a budget field mean
// "unbounded" for that budget.
type Options struct {
	MaxSteps       int64
	MaxTokens      int64
	MaxToolCalls   int64
	TimeoutSeconds float64
	RetryConfig    retry.Config
}

// Policy carries one execution's budgets and retry configuration. A Policy
// is owned by exactly one orchestrator run.
type Policy struct {
	opts      Options
	startedAt time.Time
}

// New builds a Policy from opts. The error return is maintained for
// interface stability even though construction cannot currently fail.
func New(opts Options) (*Policy, error) {
	return &Policy{opts: opts}, nil
}

// RetryConfig returns the retry configuration this policy carries.
func (p *Policy) RetryConfig() retry.Config { return p.opts.RetryConfig }

// StartTimer anchors the wall-clock budget to now. It must be called once,
// before the first call to Validate.
func (p *Policy) StartTimer() { p.startedAt = time.Now() }

// StartTimerAt anchors the wall-clock budget to a caller-supplied time
// instead of now, so a resumed execution's timeout is measured from its
// original start rather than restarting on every crash/resume cycle.
func (p *Policy) StartTimerAt(t time.Time) { p.startedAt = t }

// Context is the point-in-time counters Validate checks against the
// configured budgets.
type Context struct {
	StepCount  int64
	TokenUsage int64
	ToolCalls  int64
}

// Validate checks ctx against the configured budgets in the fixed
// tie-break order timeout → steps → tokens → tool-calls, returning the
// first *Violation found, or nil if none. Call at the top of each
// lifecycle iteration, per spec.md §4.4.
func (p *Policy) Validate(_ context.Context, c Context) error {
	if p.opts.TimeoutSeconds > 0 && !p.startedAt.IsZero() {
		elapsed := time.Since(p.startedAt).Seconds()
		if elapsed > p.opts.TimeoutSeconds {
			return &Violation{Budget: BudgetTimeout, Limit: int64(p.opts.TimeoutSeconds), Actual: int64(elapsed)}
		}
	}
	if p.opts.MaxSteps > 0 && c.StepCount > p.opts.MaxSteps {
		return &Violation{Budget: BudgetSteps, Limit: p.opts.MaxSteps, Actual: c.StepCount}
	}
	if p.opts.MaxTokens > 0 && c.TokenUsage > p.opts.MaxTokens {
		return &Violation{Budget: BudgetTokens, Limit: p.opts.MaxTokens, Actual: c.TokenUsage}
	}
	if p.opts.MaxToolCalls > 0 && c.ToolCalls > p.opts.MaxToolCalls {
		return &Violation{Budget: BudgetToolCalls, Limit: p.opts.MaxToolCalls, Actual: c.ToolCalls}
	}
	return nil
}
