package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	out := RenderTable(
		[]string{"ITEM", "SCORE"},
		[][]string{
			{"2-12", "0.812"},
			{"第4条の2", "0.750"},
		},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2-12")
	assert.Contains(t, lines[2], "第4条の2")
}

func TestRenderBox(t *testing.T) {
	out := RenderBox("Report", "one line\nanother line")
	assert.Contains(t, out, "Report")
	assert.Contains(t, out, "another line")
}
