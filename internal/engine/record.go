package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Record transition operations. Each one validates the monotonic
// lifecycle (pending → running → completed|failed), persists the change
// immediately through the given store, and only then mutates the
// in-memory record — so a crash mid-workflow leaves an accurate partial
// row behind.

// MarkRunning transitions the execution to running and stamps started_at.
func MarkRunning(ctx context.Context, st store.Store, exec *store.Execution) error {
	if err := guardTransition(exec, schema.ExecutionStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	running := schema.ExecutionStatusRunning
	if err := st.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		Status:    &running,
		StartedAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "mark running: %s", err.Error()).WithCause(err)
	}
	exec.Status = running
	exec.StartedAt = &now
	return nil
}

// AddCompletedStep appends a step name to the record's completed list and
// persists the whole list. Only valid while the execution is running.
func AddCompletedStep(ctx context.Context, st store.Store, exec *store.Execution, step string) error {
	if exec.Status != schema.ExecutionStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot record step %q on %s execution", step, exec.Status).
			WithDetails(map[string]any{"execution_id": exec.ID})
	}
	steps := append(append([]string{}, exec.StepsCompleted...), step)
	if err := st.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		StepsCompleted: steps,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record step %q: %s", step, err.Error()).WithCause(err)
	}
	exec.StepsCompleted = steps
	return nil
}

// MarkCompleted transitions the execution to completed, stamping
// completed_at and storing the result. Result and completed_at are
// written exactly once; the transition guard enforces that.
func MarkCompleted(ctx context.Context, st store.Store, exec *store.Execution, result map[string]any) error {
	return markTerminal(ctx, st, exec, schema.ExecutionStatusCompleted, result)
}

// MarkFailed transitions the execution to failed, stamping completed_at
// and storing the failure result.
func MarkFailed(ctx context.Context, st store.Store, exec *store.Execution, result map[string]any) error {
	return markTerminal(ctx, st, exec, schema.ExecutionStatusFailed, result)
}

func markTerminal(ctx context.Context, st store.Store, exec *store.Execution, to schema.ExecutionStatus, result map[string]any) error {
	if err := guardTransition(exec, to); err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC()
	if err := st.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		Status:      &to,
		Result:      raw,
		CompletedAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "mark %s: %s", to, err.Error()).WithCause(err)
	}
	exec.Status = to
	exec.Result = raw
	exec.CompletedAt = &now
	return nil
}

func guardTransition(exec *store.Execution, to schema.ExecutionStatus) error {
	if !schema.IsValidExecutionTransition(exec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", exec.Status, to).
			WithDetails(map[string]any{"execution_id": exec.ID})
	}
	return nil
}
