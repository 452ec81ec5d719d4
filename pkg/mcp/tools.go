package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/internal/triggers"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// handleRun starts a workflow. Synchronous runs return the final record;
// async runs return the execution ID.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	seed := mcp.ParseStringMap(req, "variables", nil)

	if req.GetBool("async", false) {
		execID, subErr := s.engine.Submit(ctx, workflowID, seed)
		if subErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", subErr)), nil
		}
		s.captureSession(ctx, execID)
		return marshalResult(map[string]any{
			"execution_id": execID,
			"workflow_id":  workflowID,
			"status":       schema.ExecutionPending,
		})
	}

	run, runErr := s.engine.StartRun(ctx, workflowID, seed)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
	}
	return marshalResult(run)
}

// handleStatus returns an execution record, optionally with its timeline.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	run, getErr := s.engine.GetRun(ctx, execID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	if !req.GetBool("include_events", false) || s.events == nil {
		return marshalResult(run)
	}

	timeline, tlErr := s.events.Timeline(ctx, execID)
	if tlErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", tlErr)), nil
	}
	return marshalResult(map[string]any{"execution": run, "events": timeline})
}

func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if cancelErr := s.engine.CancelRun(ctx, execID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "execution_id": execID})
}

// handleDefine validates a definition document and stores it, replacing
// any definition with the same ID.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	raw, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	if s.validator != nil {
		if docErr := s.validator.ValidateDocument(raw); docErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", docErr)), nil
		}
	}

	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(raw, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	var warnings []schema.ValidationIssue
	if s.validator != nil {
		result := s.validator.Validate(&def)
		if verr := result.ToError(); verr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", verr)), nil
		}
		warnings = result.Warnings
	}

	if storeErr := s.defs.SaveDefinition(ctx, &def); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store definition: %v", storeErr)), nil
	}
	s.logger.InfoContext(ctx, "definition stored", "workflow_id", def.ID, "steps", len(def.Steps))

	return marshalResult(map[string]any{
		"id":       def.ID,
		"steps":    len(def.Steps),
		"warnings": warnings,
	})
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "definitions":
		return s.listDefinitions(ctx, filter)
	case "runs":
		return s.listRuns(ctx, filter)
	case "schedules":
		return s.listSchedules(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- List helpers ---

func (s *Server) listDefinitions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DefinitionFilter{Limit: extractInt(filter, "limit", 50)}
	if active, ok := filter["active_only"].(bool); ok {
		df.ActiveOnly = active
	}
	defs, err := s.defs.ListDefinitions(ctx, df)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"definitions": defs})
}

func (s *Server) listRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{Limit: extractInt(filter, "limit", 50)}
	if wfID, ok := filter["workflow_id"].(string); ok {
		rf.WorkflowID = wfID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rf.Status = schema.ExecutionStatus(status)
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		t, perr := time.Parse(time.RFC3339, since)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be RFC 3339: %v", perr)), nil
		}
		rf.Since = &t
	}

	runs, err := s.engine.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *Server) listSchedules(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	defs, err := s.defs.ListDefinitions(ctx, store.DefinitionFilter{ActiveOnly: true})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	upcoming := triggers.NextFires(defs, time.Now().UTC())
	if limit := extractInt(filter, "limit", 0); limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return marshalResult(map[string]any{"schedules": upcoming})
}

// --- Internal helpers ---

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

// captureSession remembers which client session submitted an async run.
func (s *Server) captureSession(ctx context.Context, execID string) {
	if s.notifier == nil {
		return
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.notifier.sessions.Register(execID, session.SessionID())
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
