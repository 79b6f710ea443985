package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
)

func sampleHistory(t *testing.T) []boarddoc.HistoryEntry {
	t.Helper()
	doc, err := boarddoc.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, doc.SetCell(0, 0, 1))
	history, err := doc.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	return history
}

func TestWriteDot(t *testing.T) {
	history := sampleHistory(t)
	var buff bytes.Buffer
	require.NoError(t, WriteDot(&buff, history))

	out := buff.String()
	assert.True(t, strings.HasPrefix(out, `digraph "log" {`))
	assert.Contains(t, out, "on=1")
	assert.Contains(t, out, `"`+history[0].Hash+`" -> "`+history[1].Hash+`"`)
}

func TestRenderHistoryToSvg(t *testing.T) {
	out := filepath.Join(t.TempDir(), "history.svg")
	require.NoError(t, RenderHistoryToSvg(sampleHistory(t), out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
}
