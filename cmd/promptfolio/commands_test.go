package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// execute runs the CLI once against an isolated home and database.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func cliEnv(t *testing.T) {
	t.Helper()
	home := isolateHome(t)
	t.Setenv("PROMPTFOLIO_DB_PATH", "file:"+filepath.Join(home, "test.db"))
	t.Setenv("PROMPTFOLIO_LOG_LEVEL", "error")
}

func TestCLI_ImportRunStatusList(t *testing.T) {
	cliEnv(t)
	path := writeFile(t, "launch.yaml", launchYAML)

	out, _, err := execute(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported launch (3 steps)")

	out, _, err = execute(t, "run", "launch", "--var", "product=Promptfolio")
	require.NoError(t, err)
	var run schema.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, schema.ExecutionCompleted, run.Status)
	assert.Equal(t, "post", run.CurrentStepID)
	assert.Contains(t, run.Context, "post")

	out, _, err = execute(t, "status", run.ID, "--events")
	require.NoError(t, err)
	var status struct {
		Execution schema.WorkflowExecution `json:"execution"`
		Events    []json.RawMessage        `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, run.ID, status.Execution.ID)
	assert.NotEmpty(t, status.Events)

	out, _, err = execute(t, "list", "runs", "--workflow", "launch")
	require.NoError(t, err)
	var runs []schema.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)

	out, _, err = execute(t, "list", "schedules")
	require.NoError(t, err)
	assert.Contains(t, out, `"workflow_id": "launch"`)

	out, _, err = execute(t, "list")
	require.NoError(t, err)
	var defs []schema.WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, int64(1), defs[0].RunCount)
}

func TestCLI_Validate(t *testing.T) {
	cliEnv(t)

	out, _, err := execute(t, "validate", writeFile(t, "launch.yaml", launchYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "launch is valid")

	_, stderr, err := execute(t, "validate", writeFile(t, "bad.json",
		`{"id":"bad","steps":[{"id":"a","kind":"delay","config":{"durationMillis":0},"successors":["ghost"]}]}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDanglingSuccessor, schema.CodeOf(err))
	assert.Contains(t, stderr, "steps[0]")
}

func TestCLI_RunUnknownWorkflow(t *testing.T) {
	cliEnv(t)
	_, _, err := execute(t, "run", "ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinitionNotFound, schema.CodeOf(err))
}

func TestCLI_BadPolicy(t *testing.T) {
	cliEnv(t)
	t.Setenv("PROMPTFOLIO_CYCLES", "sometimes")
	_, _, err := execute(t, "list")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCLI_UnknownRunStore(t *testing.T) {
	cliEnv(t)
	_, _, err := execute(t, "--run-store", "etcd", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown run_store")
}

func TestCLI_Diagram(t *testing.T) {
	cliEnv(t)
	_, _, err := execute(t, "import", writeFile(t, "launch.yaml", launchYAML))
	require.NoError(t, err)

	out, _, err := execute(t, "diagram", "launch")
	require.NoError(t, err)
	assert.Contains(t, out, "s_draft --> s_check")
	assert.NotContains(t, out, "class s_post completed")

	out, _, err = execute(t, "run", "launch")
	require.NoError(t, err)
	var run schema.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &run))

	out, _, err = execute(t, "diagram", "launch", "--execution", run.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "class s_post completed")
}
