package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.Same(t, s.mcpServer, s.MCPServer())
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"pagepilot.import", "Store a flow definition as a draft workflow and report validation issues"},
		{"pagepilot.publish", "Validate and publish a workflow, or return it to draft"},
		{"pagepilot.run", "Run a workflow now and return the execution with its phases"},
		{"pagepilot.status", "Get an execution with its phases and logs"},
		{"pagepilot.schedule", "Set or clear the UTC cron schedule of a workflow"},
		{"pagepilot.query", "List workflows or executions"},
		{"pagepilot.diagram", "Draw a workflow or an execution. Returns ASCII art, Mermaid flowchart syntax, or a PNG image"},
		{"pagepilot.credits", "Get the user's credit balance"},
	}

	s := NewServer(ServerDeps{})
	require.Len(t, s.mcpServer.ListTools(), len(tests))

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
