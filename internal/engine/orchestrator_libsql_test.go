package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/browser/browsertest"
	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

func TestRun_ScrapeAgainstLibSQL(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := credits.NewLedger(s, logger)
	_, err = ledger.TopUp(ctx, owner, 10)
	require.NoError(t, err)

	wf := &store.Workflow{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		Name:       "scrape",
		Definition: scrapeFlow(),
		Status:     schema.WorkflowPublished,
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	launcher := browsertest.NewLauncher()
	launcher.Pages["https://example.com"] = "<html><body><h1>Example Domain</h1></body></html>"
	orch := NewOrchestrator(s, tasks.NewBuiltinRegistry(tasks.BuiltinConfig{}), ledger, OrchestratorConfig{
		Launcher: launcher,
		Logger:   logger,
	})

	exec, err := orch.Run(ctx, RunRequest{WorkflowID: wf.ID, UserID: owner})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)

	bal, err := ledger.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 7, bal)

	rep, err := orch.Status(ctx, exec.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, rep.Execution.Status)
	assert.Equal(t, 3, rep.Execution.CreditsConsumed)
	assert.Equal(t, scrapeFlow(), rep.Execution.Definition)

	require.Len(t, rep.Phases, 3)
	for i, p := range rep.Phases {
		assert.Equal(t, i+1, p.Phase.Sequence)
		assert.Equal(t, schema.PhaseCompleted, p.Phase.Status)
		assert.Equal(t, 1, p.Phase.CreditsConsumed)
		assert.NotNil(t, p.Phase.CompletedAt)
	}
	assert.Equal(t, []schema.TaskKind{schema.TaskLaunchBrowser, schema.TaskNavigateURL, schema.TaskPageToHTML},
		[]schema.TaskKind{rep.Phases[0].Phase.Kind, rep.Phases[1].Phase.Kind, rep.Phases[2].Phase.Kind})
	assert.NotEmpty(t, rep.Phases[2].Phase.Outputs["Html"])
	assert.Contains(t, rep.Phases[2].Phase.Outputs["Html"], "Example Domain")

	require.NotEmpty(t, rep.Phases[0].Logs)
	assert.Equal(t, "Browser started successfully", rep.Phases[0].Logs[0].Message)
	assert.Equal(t, 1, launcher.Closes())

	stored, err := s.GetWorkflow(ctx, wf.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, stored.LastRunID)
	assert.Equal(t, schema.ExecutionCompleted, stored.LastRunStatus)
}
