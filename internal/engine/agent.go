package engine

import (
	"context"

	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// StepPolicy selects how the runner treats step failures.
type StepPolicy int

const (
	// PolicyTransactional wraps the whole step loop in one transaction:
	// any step failure rolls back every mutation, including the record's
	// own step history.
	PolicyTransactional StepPolicy = iota

	// PolicyPartial lets each step persist its own progress; later steps
	// may stand even when an earlier step only partially succeeded.
	PolicyPartial
)

// Target is the domain entity a workflow operates on, resolved before the
// execution record is created. Entity holds the loaded row (e.g. a
// *store.Course) for the agent's own use.
type Target struct {
	Type   string
	ID     int64
	Entity any
}

// StepContext carries the mutable run state through the step loop.
// Results accumulates each step's output under its step name so later
// steps can read what earlier ones produced.
type StepContext struct {
	Record  *store.Execution
	Actor   schema.Actor
	Target  *Target
	Input   map[string]any
	Results map[string]any
}

// Agent defines a named, fixed-step workflow. Implementations are
// stateless policy objects: all mutable state lives in the execution
// record and the domain entities a run touches.
type Agent interface {
	Type() schema.AgentType
	Name() string
	Description() string

	// Steps returns the fixed ordered step list for this workflow type.
	Steps() []string

	// Policy selects the runner's failure semantics for this agent.
	Policy() StepPolicy

	// ValidateContext checks the input snapshot; an empty map means valid.
	ValidateContext(input map[string]any) map[string][]string

	// CanExecute is the authorization predicate, checked by the façade
	// before any execution record exists. Every agent must name the
	// permission it requires; there is no default-allow.
	CanExecute(actor schema.Actor) bool

	// ResolveTarget loads and structurally validates the entity the
	// workflow will mutate. Returning (nil, nil) is valid for workflows
	// whose target is only known mid-run.
	ResolveTarget(ctx context.Context, st store.Store, scopeID int64, input map[string]any) (*Target, error)

	// ExecuteStep runs exactly one named step and returns its output.
	ExecuteStep(ctx context.Context, st store.Store, sc *StepContext, step string) (map[string]any, error)

	// Summary contributes agent-specific top-level fields merged into
	// the terminal result alongside the per-step outputs.
	Summary(sc *StepContext) map[string]any

	// Rollback runs best-effort compensating actions for side effects
	// that fall outside the runner's transaction. Invoked only on
	// failure, with the steps that had completed beforehand. Agents with
	// nothing to compensate return nil — explicitly, not via a shared
	// no-op default.
	Rollback(ctx context.Context, st store.Store, sc *StepContext, completed []string) error
}
