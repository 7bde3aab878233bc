package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lumenclass/agentrun/internal/logging"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Runner drives an agent through its step list, updating the execution
// record after every step and applying the agent's failure policy.
// One Execute call owns its record exclusively; the runner is otherwise
// safe for concurrent use across records.
type Runner struct {
	store  store.Store
	logger *slog.Logger
}

// NewRunner creates a Runner over the given store.
func NewRunner(st store.Store, logger *slog.Logger) *Runner {
	return &Runner{store: st, logger: logger}
}

// Execute runs the agent's workflow against the execution record and
// returns the terminal result map. The record must be pending. On step
// failure the original step error is returned after the record has been
// marked failed and audited.
func (r *Runner) Execute(ctx context.Context, agent Agent, exec *store.Execution, actor schema.Actor, target *Target, input map[string]any) (map[string]any, error) {
	ctx = logging.WithIDs(ctx, exec.ID, string(agent.Type()), actor.ID)

	sc := &StepContext{
		Record:  exec,
		Actor:   actor,
		Target:  target,
		Input:   input,
		Results: make(map[string]any),
	}

	switch agent.Policy() {
	case PolicyTransactional:
		return r.runTransactional(ctx, agent, sc)
	default:
		return r.runPartial(ctx, agent, sc)
	}
}

// runTransactional executes every step inside a single transaction. A
// failure rolls back all domain mutations and the record's own step
// history; the externally visible failed record is rebuilt afterwards
// from the in-memory completed-step slice.
func (r *Runner) runTransactional(ctx context.Context, agent Agent, sc *StepContext) (map[string]any, error) {
	var completed []string
	var result map[string]any

	err := r.store.WithTx(ctx, func(tx store.Store) error {
		if err := MarkRunning(ctx, tx, sc.Record); err != nil {
			return err
		}
		for _, step := range agent.Steps() {
			out, stepErr := r.runStep(ctx, agent, tx, sc, step)
			if stepErr != nil {
				return stepErr
			}
			sc.Results[step] = out
			if err := AddCompletedStep(ctx, tx, sc.Record, step); err != nil {
				return err
			}
			completed = append(completed, step)
		}
		result = r.buildResult(agent, sc, true, "")
		if err := MarkCompleted(ctx, tx, sc.Record, result); err != nil {
			return err
		}
		r.audit(ctx, tx, sc, schema.ActionAgentExecuted, completed)
		return nil
	})
	if err != nil {
		r.failAfterRollback(ctx, agent, sc, completed, err)
		return nil, err
	}
	return result, nil
}

// failAfterRollback handles the failure path once the transaction has
// already rolled back: compensate, then re-mark the reloaded record
// running and failed so callers observe a terminal row whose result
// carries the pre-rollback step list.
func (r *Runner) failAfterRollback(ctx context.Context, agent Agent, sc *StepContext, completed []string, cause error) {
	log := logging.LogWith(ctx, r.logger)

	if rbErr := agent.Rollback(ctx, r.store, sc, completed); rbErr != nil {
		// Rollback is best effort; a failing compensation must not mask
		// the original step error.
		log.Warn("agent rollback failed", slog.String("error", rbErr.Error()))
	}

	fresh, err := r.store.GetExecution(ctx, sc.Record.ID)
	if err != nil {
		log.Error("reload execution after rollback failed", slog.String("error", err.Error()))
		return
	}

	failure := r.buildFailure(agent, sc, completed, cause)
	if err := MarkRunning(ctx, r.store, fresh); err != nil {
		log.Error("re-mark running failed", slog.String("error", err.Error()))
		return
	}
	if err := MarkFailed(ctx, r.store, fresh, failure); err != nil {
		log.Error("mark failed failed", slog.String("error", err.Error()))
		return
	}
	*sc.Record = *fresh
	r.audit(ctx, r.store, sc, schema.ActionAgentFailed, completed)
}

// runPartial executes steps without an enclosing transaction: each step
// persists its own progress, and only errors the agent chooses to raise
// end the run.
func (r *Runner) runPartial(ctx context.Context, agent Agent, sc *StepContext) (map[string]any, error) {
	if err := MarkRunning(ctx, r.store, sc.Record); err != nil {
		return nil, err
	}

	var completed []string
	for _, step := range agent.Steps() {
		out, stepErr := r.runStep(ctx, agent, r.store, sc, step)
		if stepErr != nil {
			r.failBestEffort(ctx, agent, sc, completed, stepErr)
			return nil, stepErr
		}
		sc.Results[step] = out
		if err := AddCompletedStep(ctx, r.store, sc.Record, step); err != nil {
			r.failBestEffort(ctx, agent, sc, completed, err)
			return nil, err
		}
		completed = append(completed, step)
	}

	result := r.buildResult(agent, sc, true, "")
	if err := MarkCompleted(ctx, r.store, sc.Record, result); err != nil {
		r.failBestEffort(ctx, agent, sc, completed, err)
		return nil, err
	}
	r.audit(ctx, r.store, sc, schema.ActionAgentExecuted, completed)
	return result, nil
}

// failBestEffort marks the record failed on the plain store so a step or
// store fault does not leave it in Running; a failing mark is logged and
// the original error still surfaces to the caller.
func (r *Runner) failBestEffort(ctx context.Context, agent Agent, sc *StepContext, completed []string, cause error) {
	failure := r.buildFailure(agent, sc, completed, cause)
	if err := MarkFailed(ctx, r.store, sc.Record, failure); err != nil {
		logging.LogWith(ctx, r.logger).Error("mark failed failed", slog.String("error", err.Error()))
	}
	r.audit(ctx, r.store, sc, schema.ActionAgentFailed, completed)
}

func (r *Runner) runStep(ctx context.Context, agent Agent, st store.Store, sc *StepContext, step string) (map[string]any, error) {
	log := logging.LogWith(ctx, r.logger)
	log.Debug("executing step", slog.String("step", step))

	out, err := agent.ExecuteStep(ctx, st, sc, step)
	if err != nil {
		log.Warn("step failed", slog.String("step", step), slog.String("error", err.Error()))
		if ae, ok := err.(*schema.Error); ok && ae.Step == "" {
			ae.Step = step
		}
		return nil, err
	}
	return out, nil
}

func (r *Runner) buildResult(agent Agent, sc *StepContext, success bool, errMsg string) map[string]any {
	result := map[string]any{
		"success": success,
		"steps":   sc.Results,
	}
	if errMsg != "" {
		result["error"] = errMsg
	}
	if sc.Target != nil {
		result["target_type"] = sc.Target.Type
		result["target_id"] = sc.Target.ID
	}
	for k, v := range agent.Summary(sc) {
		result[k] = v
	}
	return result
}

func (r *Runner) buildFailure(agent Agent, sc *StepContext, completed []string, cause error) map[string]any {
	result := r.buildResult(agent, sc, false, cause.Error())
	// Captured from the local slice, not the persisted record: under the
	// transactional policy the record's own list has been rolled back.
	if completed == nil {
		completed = []string{}
	}
	result["steps_completed"] = completed
	return result
}

// audit writes an engine-level audit entry. Audit failures are logged
// and swallowed: the run's own success or failure is already decided.
func (r *Runner) audit(ctx context.Context, st store.Store, sc *StepContext, action string, completed []string) {
	details, _ := json.Marshal(map[string]any{
		"agent_type":      sc.Record.AgentType,
		"steps_completed": completed,
	})
	entry := &store.AuditEntry{
		ActorID:      sc.Actor.ID,
		Action:       action,
		ResourceType: "execution",
		ResourceID:   sc.Record.ID,
		ScopeID:      &sc.Record.ScopeID,
		Details:      details,
	}
	if err := st.AppendAuditEntry(ctx, entry); err != nil {
		logging.LogWith(ctx, r.logger).Warn("audit write failed",
			slog.String("action", action), slog.String("error", err.Error()))
	}
}
