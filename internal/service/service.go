// Package service is the façade in front of the workflow engine: it
// authorizes actors, creates execution records and delegates runs to
// the engine runner.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lumenclass/agentrun/internal/agents"
	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/expressions"
	"github.com/lumenclass/agentrun/internal/logging"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AgentInfo describes one registered agent for discovery.
type AgentInfo struct {
	Type        schema.AgentType `json:"type"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Steps       []string         `json:"steps"`
}

// ListQuery is the admin listing request. Where is an optional boolean
// expr predicate evaluated against each row after scope restriction.
type ListQuery struct {
	ScopeID     *int64                  `json:"scope_id,omitempty"`
	AgentType   *schema.AgentType       `json:"agent_type,omitempty"`
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	InitiatedBy *int64                  `json:"initiated_by,omitempty"`
	Where       string                  `json:"where,omitempty"`
	Page        int                     `json:"page,omitempty"`
	PerPage     int                     `json:"per_page,omitempty"`
}

// ExecutionPage is one page of the admin listing, newest first.
type ExecutionPage struct {
	Executions []*store.Execution `json:"executions"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
}

// ExecutionService is the single entry point for running and reading
// workflow executions. It owns authorization; the runner below it
// assumes every call is already allowed.
type ExecutionService struct {
	store     store.Store
	registry  *agents.Registry
	runner    *engine.Runner
	access    ScopeAccessChecker
	filters   *expressions.FilterEngine
	inspector *expressions.InspectEngine
	logger    *slog.Logger
}

// NewExecutionService wires the façade.
func NewExecutionService(st store.Store, reg *agents.Registry, runner *engine.Runner, access ScopeAccessChecker, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		store:     st,
		registry:  reg,
		runner:    runner,
		access:    access,
		filters:   expressions.NewFilterEngine(),
		inspector: expressions.NewInspectEngine(),
		logger:    logger,
	}
}

// Execute runs one workflow for the actor in the given center and
// returns the terminal record together with the agent's result map,
// unchanged. The preflight order is fixed: agent lookup, scope check,
// permission check, context validation, target resolution. Only after
// all five pass is an execution record created; a run that then fails
// leaves a terminal failed record behind, returned alongside the error.
func (s *ExecutionService) Execute(ctx context.Context, actor schema.Actor, scopeID int64, agentType schema.AgentType, input map[string]any) (*store.Execution, map[string]any, error) {
	agent, err := s.registry.Resolve(agentType)
	if err != nil {
		return nil, nil, err
	}

	scopes, err := s.access.AccessibleScopeIDs(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	if !scopeAllowed(scopes, scopeID) {
		return nil, nil, schema.NewErrorf(schema.ErrCodeAccessDenied,
			"actor %d cannot act in center %d", actor.ID, scopeID)
	}

	if !agent.CanExecute(actor) {
		return nil, nil, schema.NewErrorf(schema.ErrCodeAccessDenied,
			"actor %d lacks permission for agent %q", actor.ID, agentType)
	}

	if fields := agent.ValidateContext(input); len(fields) > 0 {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "invalid execution context").
			WithFields(fields)
	}

	target, err := agent.ResolveTarget(ctx, s.store, scopeID, input)
	if err != nil {
		return nil, nil, err
	}

	exec := &store.Execution{
		ID:          uuid.NewString(),
		ScopeID:     scopeID,
		AgentType:   agentType,
		Status:      schema.ExecutionStatusPending,
		Context:     input,
		InitiatedBy: actor.ID,
	}
	if target != nil {
		exec.TargetType = target.Type
		exec.TargetID = &target.ID
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, nil, err
	}

	logging.LogWith(logging.WithIDs(ctx, exec.ID, string(agentType), actor.ID), s.logger).
		Info("execution started", slog.Int64("scope_id", scopeID))

	result, err := s.runner.Execute(ctx, agent, exec, actor, target, input)
	if err != nil {
		return exec, nil, err
	}
	return exec, result, nil
}

// PaginateForAdmin lists executions the actor may see, newest first.
// A requested scope outside the actor's visibility is an access error,
// not an empty page.
func (s *ExecutionService) PaginateForAdmin(ctx context.Context, actor schema.Actor, q ListQuery) (*ExecutionPage, error) {
	scopes, err := s.access.AccessibleScopeIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if q.ScopeID != nil && !scopeAllowed(scopes, *q.ScopeID) {
		return nil, schema.NewErrorf(schema.ErrCodeAccessDenied,
			"actor %d cannot list executions for center %d", actor.ID, *q.ScopeID)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage < 1 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	filter := store.ExecutionFilter{
		ScopeID:     q.ScopeID,
		ScopeIDs:    scopes,
		AgentType:   q.AgentType,
		Status:      q.Status,
		InitiatedBy: q.InitiatedBy,
	}

	if q.Where == "" {
		filter.Limit = perPage
		filter.Offset = (page - 1) * perPage
		execs, total, err := s.store.ListExecutions(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &ExecutionPage{Executions: execs, Total: total, Page: page, PerPage: perPage}, nil
	}

	// Predicate filtering happens in memory, so pagination is applied
	// after the predicate, not pushed down to the store.
	execs, _, err := s.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, err
	}
	matched := make([]*store.Execution, 0, len(execs))
	for _, e := range execs {
		ok, err := s.filters.Match(ctx, q.Where, executionRow(e))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return &ExecutionPage{Executions: matched[start:end], Total: total, Page: page, PerPage: perPage}, nil
}

// AssertActorCanAccess loads an execution and verifies the actor may
// see it.
func (s *ExecutionService) AssertActorCanAccess(ctx context.Context, actor schema.Actor, executionID string) (*store.Execution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	scopes, err := s.access.AccessibleScopeIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !scopeAllowed(scopes, exec.ScopeID) {
		return nil, schema.NewErrorf(schema.ErrCodeAccessDenied,
			"actor %d cannot access execution %s", actor.ID, executionID)
	}
	return exec, nil
}

// AvailableAgents returns the registered agents the actor is allowed to
// run, sorted by type.
func (s *ExecutionService) AvailableAgents(actor schema.Actor) []AgentInfo {
	out := make([]AgentInfo, 0)
	for _, a := range s.registry.All() {
		if !a.CanExecute(actor) {
			continue
		}
		out = append(out, AgentInfo{
			Type:        a.Type(),
			Name:        a.Name(),
			Description: a.Description(),
			Steps:       a.Steps(),
		})
	}
	return out
}

// InspectResult runs a jq query over a terminal execution's result.
func (s *ExecutionService) InspectResult(ctx context.Context, actor schema.Actor, executionID, query string) (any, error) {
	exec, err := s.AssertActorCanAccess(ctx, actor, executionID)
	if err != nil {
		return nil, err
	}
	if len(exec.Result) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"execution %s has no result yet", executionID)
	}
	var doc any
	if err := json.Unmarshal(exec.Result, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"stored result for %s is not valid JSON", executionID).WithCause(err)
	}
	return s.inspector.Query(ctx, query, doc)
}

// executionRow flattens an execution into the filter environment.
func executionRow(e *store.Execution) map[string]any {
	row := map[string]any{
		"id":              e.ID,
		"scope_id":        e.ScopeID,
		"agent_type":      string(e.AgentType),
		"status":          string(e.Status),
		"target_type":     e.TargetType,
		"initiated_by":    e.InitiatedBy,
		"steps_completed": e.StepsCompleted,
		"created_at":      e.CreatedAt,
	}
	if e.TargetID != nil {
		row["target_id"] = *e.TargetID
	}
	return row
}
