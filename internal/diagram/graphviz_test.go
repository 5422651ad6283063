package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

func TestRenderImage_PNG(t *testing.T) {
	model, err := Build("scrape", fanOutFlow(), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, FormatPNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImage_SVGWithStatus(t *testing.T) {
	model, err := Build("scrape", fanOutFlow(), []*store.Phase{
		{NodeID: "launch", Status: schema.PhaseCompleted},
		{NodeID: "nav", Status: schema.PhaseFailed},
	})
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "#8b1a1a")
}

func TestRenderImage_UnsupportedFormat(t *testing.T) {
	model, err := Build("", fanOutFlow(), nil)
	require.NoError(t, err)

	_, err = RenderImage(context.Background(), model, "bmp")
	assert.ErrorContains(t, err, "unsupported image format")
}
