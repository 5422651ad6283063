package validation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// mockWorkflowStore satisfies store.WorkflowStore for publish tests.
type mockWorkflowStore struct {
	store.WorkflowStore
	mu        sync.Mutex
	workflows map[string]*store.Workflow
}

func (m *mockWorkflowStore) GetWorkflow(_ context.Context, id, ownerID string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok || wf.OwnerID != ownerID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *mockWorkflowStore) UpdateWorkflow(_ context.Context, id string, update store.WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf := m.workflows[id]
	if update.Status != nil {
		wf.Status = *update.Status
	}
	if update.CreditsCost != nil {
		wf.CreditsCost = *update.CreditsCost
	}
	return nil
}

func newPublisher(t *testing.T, def *schema.FlowDefinition) (*Publisher, *mockWorkflowStore) {
	t.Helper()
	ms := &mockWorkflowStore{workflows: map[string]*store.Workflow{
		"wf-1": {ID: "wf-1", OwnerID: "user-1", Status: schema.WorkflowDraft, Definition: *def},
	}}
	reg := tasks.NewBuiltinRegistry(tasks.BuiltinConfig{})
	v, err := NewFlowValidator(reg)
	require.NoError(t, err)
	return NewPublisher(ms, v, reg, nil), ms
}

func TestPublish(t *testing.T) {
	p, ms := newPublisher(t, scrapeFlow())

	wf, err := p.Publish(context.Background(), "wf-1", "user-1")
	require.NoError(t, err)
	// launch 1 + navigate 1 + html 1 + extract 2
	assert.Equal(t, 5, wf.CreditsCost)
	assert.Equal(t, schema.WorkflowPublished, wf.Status)
	assert.Equal(t, 5, ms.workflows["wf-1"].CreditsCost)
	assert.Equal(t, schema.WorkflowPublished, ms.workflows["wf-1"].Status)

	_, err = p.Publish(context.Background(), "wf-1", "user-1")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestPublish_InvalidFlowStaysDraft(t *testing.T) {
	def := scrapeFlow()
	def.Nodes[1].Inputs = nil
	p, ms := newPublisher(t, def)

	_, err := p.Publish(context.Background(), "wf-1", "user-1")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Equal(t, schema.WorkflowDraft, ms.workflows["wf-1"].Status)
	assert.Zero(t, ms.workflows["wf-1"].CreditsCost)
}

func TestPublish_NotOwner(t *testing.T) {
	p, _ := newPublisher(t, scrapeFlow())

	_, err := p.Publish(context.Background(), "wf-1", "user-2")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUnpublish(t *testing.T) {
	p, ms := newPublisher(t, scrapeFlow())
	ctx := context.Background()

	assert.True(t, schema.IsCode(p.Unpublish(ctx, "wf-1", "user-1"), schema.ErrCodeConflict))

	_, err := p.Publish(ctx, "wf-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, p.Unpublish(ctx, "wf-1", "user-1"))
	assert.Equal(t, schema.WorkflowDraft, ms.workflows["wf-1"].Status)
}
