package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// fanOutFlow: launch → nav → html, then html feeds two extractions.
func fanOutFlow() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			{ID: "launch", Type: schema.TaskLaunchBrowser, Label: "Open site"},
			{ID: "nav", Type: schema.TaskNavigateURL, Inputs: map[string]string{"URL": "https://example.com"}},
			{ID: "html", Type: schema.TaskPageToHTML},
			{ID: "title", Type: schema.TaskExtractTextFromElement, Inputs: map[string]string{"Selector": "h1"}},
			{ID: "links", Type: schema.TaskExtractTextFromElement, Inputs: map[string]string{"Selector": "a"}},
		},
		Edges: []schema.FlowEdge{
			{ID: "e1", Source: "launch", SourceHandle: "Web page", Target: "nav", TargetHandle: "Web page"},
			{ID: "e2", Source: "nav", SourceHandle: "Web page", Target: "html", TargetHandle: "Web page"},
			{ID: "e3", Source: "html", SourceHandle: "Html", Target: "title", TargetHandle: "Html"},
			{ID: "e4", Source: "html", SourceHandle: "Html", Target: "links", TargetHandle: "Html"},
		},
	}
}

func TestBuild(t *testing.T) {
	model, err := Build("scrape", fanOutFlow(), nil)
	require.NoError(t, err)

	assert.Equal(t, "scrape", model.Title)
	require.Len(t, model.Nodes, 5)

	ids := make([]string, len(model.Nodes))
	for i, n := range model.Nodes {
		ids[i] = n.ID
		assert.Equal(t, i+1, n.Sequence)
		assert.Nil(t, n.Status)
	}
	assert.Equal(t, []string{"launch", "nav", "html", "title", "links"}, ids)

	assert.True(t, model.Nodes[0].Entry)
	assert.False(t, model.Nodes[1].Entry)
	assert.Equal(t, "Open site\n(LAUNCH_BROWSER)", model.Nodes[0].Label)
	assert.Equal(t, "NAVIGATE_URL", model.Nodes[1].Label)

	assert.Equal(t, [][]string{{"launch"}, {"nav"}, {"html"}, {"title", "links"}}, model.Levels)

	require.Len(t, model.Edges, 4)
	assert.Equal(t, Edge{From: "html", To: "title", Label: "Html"}, model.Edges[2])
}

func TestBuild_StatusOverlay(t *testing.T) {
	phases := []*store.Phase{
		{NodeID: "launch", Status: schema.PhaseCompleted, CreditsConsumed: 1},
		{NodeID: "nav", Status: schema.PhaseFailed, CreditsConsumed: 1},
		{NodeID: "html", Status: schema.PhasePending},
	}
	model, err := Build("", fanOutFlow(), phases)
	require.NoError(t, err)

	require.NotNil(t, model.Nodes[0].Status)
	assert.Equal(t, "completed", model.Nodes[0].Status.Status)
	assert.Equal(t, 1, model.Nodes[0].Status.Credits)
	assert.Equal(t, "failed", model.Nodes[1].Status.Status)
	assert.Equal(t, "pending", model.Nodes[2].Status.Status)
	assert.Nil(t, model.Nodes[3].Status)
}

func TestBuild_EdgeLabels(t *testing.T) {
	assert.Equal(t, "", edgeLabel(schema.FlowEdge{}))
	assert.Equal(t, "Html", edgeLabel(schema.FlowEdge{SourceHandle: "Html", TargetHandle: "Html"}))
	assert.Equal(t, "Extracted text > Body",
		edgeLabel(schema.FlowEdge{SourceHandle: "Extracted text", TargetHandle: "Body"}))
}

func TestBuild_InvalidFlow(t *testing.T) {
	_, err := Build("", nil, nil)
	assert.Error(t, err)

	cyclic := &schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			{ID: "a", Type: schema.TaskPageToHTML},
			{ID: "b", Type: schema.TaskPageToHTML},
		},
		Edges: []schema.FlowEdge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}
	_, err = Build("", cyclic, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}
