package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

func TestRenderASCII(t *testing.T) {
	model, err := Build("scrape", fanOutFlow(), nil)
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.True(t, strings.HasPrefix(out, "=== scrape ===\n"))
	assert.Contains(t, out, "│ 1. Open site │")
	assert.Contains(t, out, "2. NAVIGATE_URL")
	assert.Contains(t, out, "▼")
	assert.Contains(t, out, "html ─→ title  (Html)")

	// title and links share a row.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "4. EXTRACT_TEXT_FROM_ELEMENT") {
			assert.Contains(t, line, "5. EXTRACT_TEXT_FROM_ELEMENT")
		}
	}
}

func TestRenderASCII_WithStatus(t *testing.T) {
	model, err := Build("", fanOutFlow(), []*store.Phase{
		{NodeID: "launch", Status: schema.PhaseCompleted, CreditsConsumed: 1},
		{NodeID: "nav", Status: schema.PhaseFailed, CreditsConsumed: 1},
	})
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.NotContains(t, out, "===")
	assert.Contains(t, out, "[OK] 1 cr")
	assert.Contains(t, out, "[FAIL] 1 cr")
	assert.NotContains(t, out, "[RUN]")
}
