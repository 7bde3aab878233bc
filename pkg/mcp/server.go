// Package mcp exposes the execution service over the Model Context
// Protocol via stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lumenclass/agentrun/internal/service"
	"github.com/lumenclass/agentrun/internal/store"
)

// AgentRunServerDeps holds the dependencies for creating an AgentRunServer.
type AgentRunServerDeps struct {
	Service *service.ExecutionService
	Store   store.Store
	Logger  *slog.Logger
}

// AgentRunServer wraps an MCP server with the execution tool handlers.
type AgentRunServer struct {
	service   *service.ExecutionService
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAgentRunServer creates a new AgentRunServer with all 5 tools registered.
func NewAgentRunServer(deps AgentRunServerDeps) *AgentRunServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AgentRunServer{
		service: deps.Service,
		store:   deps.Store,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"agentrun",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("AgentRun executes admin workflows for learning centers. Use agentrun.execute to run a workflow, agentrun.status to read an execution, agentrun.list to page through executions, agentrun.agents to discover available workflows, and agentrun.inspect to query an execution's result with jq."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AgentRunServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AgentRunServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *AgentRunServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: inspectTool(), Handler: s.handleInspect},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("agentrun.execute",
		mcp.WithDescription("Execute an admin workflow in a center"),
		mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("ID of the user initiating the workflow")),
		mcp.WithNumber("scope_id", mcp.Required(), mcp.Description("ID of the center to act in")),
		mcp.WithString("agent_type", mcp.Required(),
			mcp.Enum("content_publishing", "enrollment_management"),
			mcp.Description("Workflow type to run"),
		),
		mcp.WithObject("context", mcp.Required(), mcp.Description("Workflow input (e.g. course_id, student_ids)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("agentrun.status",
		mcp.WithDescription("Get an execution record with its status, steps and result"),
		mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("ID of the requesting user")),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to read")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("agentrun.list",
		mcp.WithDescription("List executions visible to the actor, newest first"),
		mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("ID of the requesting user")),
		mcp.WithObject("filter", mcp.Description("Filter criteria (scope_id, agent_type, status, initiated_by, where, page, per_page)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("agentrun.agents",
		mcp.WithDescription("List the workflows the actor is allowed to run"),
		mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("ID of the requesting user")),
	)
}

func inspectTool() mcp.Tool {
	return mcp.NewTool("agentrun.inspect",
		mcp.WithDescription("Run a jq query over an execution's stored result"),
		mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("ID of the requesting user")),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
		mcp.WithString("query", mcp.Required(), mcp.Description("jq expression, e.g. '.steps.create_enrollments.errors'")),
	)
}
