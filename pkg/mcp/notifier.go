package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// ClientNotifier pushes a payload to an MCP session.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// RunNotifier is an engine.Observer that tells the submitting session when
// an async run reaches a terminal state. Runs nobody waits on are ignored.
type RunNotifier struct {
	engine.NoopObserver

	sessions *SessionRegistry
	logger   *slog.Logger

	mu     sync.RWMutex
	client ClientNotifier
}

// NewRunNotifier creates a RunNotifier. It does nothing until it is attached
// to a server.
func NewRunNotifier(logger *slog.Logger) *RunNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNotifier{sessions: NewSessionRegistry(), logger: logger}
}

// Sessions exposes the execution→session registry.
func (n *RunNotifier) Sessions() *SessionRegistry { return n.sessions }

func (n *RunNotifier) attach(mcpServer *server.MCPServer) {
	n.setClient(mcpServer)
}

func (n *RunNotifier) setClient(c ClientNotifier) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = c
}

func (n *RunNotifier) OnRunCompleted(ctx context.Context, run engine.RunInfo, d time.Duration) {
	n.notify(ctx, run, map[string]any{
		"status":      schema.ExecutionCompleted,
		"duration_ms": d.Milliseconds(),
	})
}

func (n *RunNotifier) OnRunFailed(ctx context.Context, run engine.RunInfo, err error, d time.Duration) {
	payload := map[string]any{
		"status":      schema.ExecutionFailed,
		"duration_ms": d.Milliseconds(),
	}
	if err != nil {
		payload["error"] = err.Error()
		if code := schema.CodeOf(err); code != "" {
			payload["code"] = code
		}
	}
	n.notify(ctx, run, payload)
}

// notify is best-effort: a session that went away is forgotten silently.
func (n *RunNotifier) notify(ctx context.Context, run engine.RunInfo, payload map[string]any) {
	sessionID, ok := n.sessions.SessionFor(run.ExecutionID)
	if !ok {
		return
	}
	n.sessions.Forget(run.ExecutionID)

	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()
	if client == nil {
		return
	}

	payload["event"] = "run_finished"
	payload["execution_id"] = run.ExecutionID
	payload["workflow_id"] = run.WorkflowID

	err := client.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
		"level":  "info",
		"logger": "promptfolio",
		"data":   payload,
	})
	switch {
	case err == nil:
	case errors.Is(err, server.ErrSessionNotFound):
		n.sessions.Remove(sessionID)
	default:
		n.logger.WarnContext(ctx, "run notification failed",
			"execution_id", run.ExecutionID, "session_id", sessionID, "error", err)
	}
}
