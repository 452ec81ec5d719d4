package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/internal/validation"
)

// ServerDeps holds the dependencies of a Server.
type ServerDeps struct {
	Engine      engine.Engine
	Definitions store.DefinitionRepository
	Events      store.EventStore // optional; enables include_events on flows.status
	Validator   *validation.DefinitionValidator
	Notifier    *RunNotifier // optional; notifies sessions when async runs finish
	Logger      *slog.Logger
}

// Server exposes the workflow engine as MCP tools.
type Server struct {
	engine    engine.Engine
	defs      store.DefinitionRepository
	events    *store.EventLog
	validator *validation.DefinitionValidator
	notifier  *RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all five tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		defs:      deps.Definitions,
		validator: deps.Validator,
		notifier:  deps.Notifier,
		logger:    logger,
	}
	if deps.Events != nil {
		s.events = store.NewEventLog(deps.Events)
	}

	mcpSrv := server.NewMCPServer(
		"promptfolio",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Promptfolio runs content automation workflows. Use flows.define to store a workflow definition, flows.run to start it, flows.status to follow a run, flows.cancel to stop one and flows.list to browse definitions, runs and upcoming schedules."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	if s.notifier != nil {
		s.notifier.attach(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flows.run",
		mcp.WithDescription("Run a stored workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow definition to run")),
		mcp.WithObject("variables", mcp.Description("Seed variables for the run's context")),
		mcp.WithBoolean("async", mcp.Description("Return the execution ID immediately instead of waiting for the run to finish (default: false)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flows.status",
		mcp.WithDescription("Get the execution record of a run"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithBoolean("include_events", mcp.Description("Include the run's event timeline (default: false)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flows.cancel",
		mcp.WithDescription("Cancel an in-flight run"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("flows.define",
		mcp.WithDescription("Validate and store a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (id, name, steps, triggers, active)")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flows.list",
		mcp.WithDescription("List workflow definitions, runs, or upcoming scheduled triggers"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("definitions", "runs", "schedules"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, status, since, limit, active_only)")),
	)
}
