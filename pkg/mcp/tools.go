package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumenclass/agentrun/internal/service"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// handleExecute runs one workflow for the actor.
func (s *AgentRunServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	scopeID, err := req.RequireFloat("scope_id")
	if err != nil {
		return mcp.NewToolResultError("scope_id is required"), nil
	}
	agentType, err := req.RequireString("agent_type")
	if err != nil {
		return mcp.NewToolResultError("agent_type is required"), nil
	}
	input := mcp.ParseStringMap(req, "context", nil)
	if input == nil {
		return mcp.NewToolResultError("context is required"), nil
	}

	exec, result, execErr := s.service.Execute(ctx, actor, int64(scopeID), schema.AgentType(agentType), input)
	if execErr != nil {
		if exec == nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution rejected: %v", execErr)), nil
		}
		// A record exists: the run started and failed. Return both so the
		// caller can inspect the terminal record.
		return marshalResult(map[string]any{
			"execution": exec,
			"error":     execErr.Error(),
		})
	}
	return marshalResult(map[string]any{"execution": exec, "result": result})
}

// handleStatus returns one execution record.
func (s *AgentRunServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, accessErr := s.service.AssertActorCanAccess(ctx, actor, executionID)
	if accessErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", accessErr)), nil
	}
	return marshalResult(exec)
}

// handleList pages through executions visible to the actor.
func (s *AgentRunServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	q := service.ListQuery{
		Page:    extractInt(filter, "page", 1),
		PerPage: extractInt(filter, "per_page", 0),
	}
	if scopeID, ok := extractInt64(filter, "scope_id"); ok {
		q.ScopeID = &scopeID
	}
	if at, ok := filter["agent_type"].(string); ok && at != "" {
		t := schema.AgentType(at)
		q.AgentType = &t
	}
	if st, ok := filter["status"].(string); ok && st != "" {
		status := schema.ExecutionStatus(st)
		q.Status = &status
	}
	if initiatedBy, ok := extractInt64(filter, "initiated_by"); ok {
		q.InitiatedBy = &initiatedBy
	}
	if where, ok := filter["where"].(string); ok {
		q.Where = where
	}

	page, listErr := s.service.PaginateForAdmin(ctx, actor, q)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	return marshalResult(page)
}

// handleAgents lists the workflows the actor may run.
func (s *AgentRunServer) handleAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return marshalResult(map[string]any{"agents": s.service.AvailableAgents(actor)})
}

// handleInspect runs a jq query over an execution's result.
func (s *AgentRunServer) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	out, inspectErr := s.service.InspectResult(ctx, actor, executionID, query)
	if inspectErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", inspectErr)), nil
	}
	return marshalResult(map[string]any{"result": out})
}

// --- Internal helpers ---

// resolveActor loads the acting user from the actor_id argument. The
// second return value is non-nil when resolution failed and should be
// returned to the client as-is.
func (s *AgentRunServer) resolveActor(ctx context.Context, req mcp.CallToolRequest) (schema.Actor, *mcp.CallToolResult) {
	actorID, err := req.RequireFloat("actor_id")
	if err != nil {
		return schema.Actor{}, mcp.NewToolResultError("actor_id is required")
	}
	user, err := s.store.GetUser(ctx, int64(actorID))
	if err != nil {
		return schema.Actor{}, mcp.NewToolResultError(fmt.Sprintf("unknown actor %d", int64(actorID)))
	}
	return user.Actor(), nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractInt64 extracts an optional int64 from a filter map.
func extractInt64(filter map[string]any, key string) (int64, bool) {
	if filter == nil {
		return 0, false
	}
	switch val := filter[key].(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	default:
		return 0, false
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
