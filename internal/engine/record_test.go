package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// memStore is an in-memory Store for engine tests. Only the execution
// and audit methods are implemented; everything else panics via the
// embedded nil interface.
type memStore struct {
	store.Store

	executions map[string]*store.Execution
	audits     []*store.AuditEntry

	updateErr    error
	failUpdateAt int // when set, updateErr applies only to the Nth update call
	updateCalls  int
	txErr        error
}

func newMemStore() *memStore {
	return &memStore{executions: make(map[string]*store.Execution)}
}

func (m *memStore) CreateExecution(_ context.Context, exec *store.Execution) error {
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	exec, ok := m.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	cp := *exec
	return &cp, nil
}

func (m *memStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.updateCalls++
	if m.updateErr != nil && (m.failUpdateAt == 0 || m.updateCalls == m.failUpdateAt) {
		return m.updateErr
	}
	exec, ok := m.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	if update.Status != nil {
		exec.Status = *update.Status
	}
	if update.Result != nil {
		exec.Result = update.Result
	}
	if update.StepsCompleted != nil {
		exec.StepsCompleted = update.StepsCompleted
	}
	if update.StartedAt != nil {
		exec.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		exec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *memStore) AppendAuditEntry(_ context.Context, entry *store.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

// WithTx snapshots the execution table, runs fn against the live store
// and restores the snapshot on error — the rollback semantics the
// transactional policy relies on.
func (m *memStore) WithTx(_ context.Context, fn func(store.Store) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	snapshot := make(map[string]*store.Execution, len(m.executions))
	for id, exec := range m.executions {
		cp := *exec
		cp.StepsCompleted = append([]string{}, exec.StepsCompleted...)
		snapshot[id] = &cp
	}
	auditLen := len(m.audits)
	if err := fn(m); err != nil {
		m.executions = snapshot
		m.audits = m.audits[:auditLen]
		return err
	}
	return nil
}

func pendingExecution(m *memStore, agentType schema.AgentType) *store.Execution {
	exec := &store.Execution{
		ID:          "exec-1",
		ScopeID:     1,
		AgentType:   agentType,
		Status:      schema.ExecutionStatusPending,
		InitiatedBy: 7,
	}
	_ = m.CreateExecution(context.Background(), exec)
	return exec
}

// --- Transition tests ---

func TestMarkRunning(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)

	require.NoError(t, MarkRunning(context.Background(), m, exec))
	assert.Equal(t, schema.ExecutionStatusRunning, exec.Status)
	require.NotNil(t, exec.StartedAt)

	persisted := m.executions[exec.ID]
	assert.Equal(t, schema.ExecutionStatusRunning, persisted.Status)
}

func TestMarkRunning_RejectsTerminal(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)
	exec.Status = schema.ExecutionStatusCompleted

	err := MarkRunning(context.Background(), m, exec)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
}

func TestMarkCompleted_OnlyFromRunning(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)

	// pending -> completed is not a legal transition.
	err := MarkCompleted(context.Background(), m, exec, map[string]any{"success": true})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	require.NoError(t, MarkRunning(context.Background(), m, exec))
	require.NoError(t, MarkCompleted(context.Background(), m, exec, map[string]any{"success": true}))
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)

	var result map[string]any
	require.NoError(t, json.Unmarshal(exec.Result, &result))
	assert.Equal(t, true, result["success"])
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)
	require.NoError(t, MarkRunning(context.Background(), m, exec))
	require.NoError(t, MarkFailed(context.Background(), m, exec, map[string]any{"success": false}))

	err := MarkRunning(context.Background(), m, exec)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	err = MarkCompleted(context.Background(), m, exec, nil)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
}

func TestAddCompletedStep(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)

	// Not allowed while pending.
	err := AddCompletedStep(context.Background(), m, exec, "validate_sections")
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	require.NoError(t, MarkRunning(context.Background(), m, exec))
	require.NoError(t, AddCompletedStep(context.Background(), m, exec, "validate_sections"))
	require.NoError(t, AddCompletedStep(context.Background(), m, exec, "validate_videos"))
	assert.Equal(t, []string{"validate_sections", "validate_videos"}, exec.StepsCompleted)
	assert.Equal(t, []string{"validate_sections", "validate_videos"}, m.executions[exec.ID].StepsCompleted)
}

func TestAddCompletedStep_PersistFailureKeepsMemoryClean(t *testing.T) {
	m := newMemStore()
	exec := pendingExecution(m, schema.AgentTypeContentPublishing)
	require.NoError(t, MarkRunning(context.Background(), m, exec))

	m.updateErr = schema.NewError(schema.ErrCodeStore, "disk full")
	err := AddCompletedStep(context.Background(), m, exec, "validate_sections")
	require.Error(t, err)
	assert.Empty(t, exec.StepsCompleted)
}
