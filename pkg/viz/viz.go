package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
)

func label(entry boarddoc.HistoryEntry) string {
	return fmt.Sprintf("%s %s@%d on=%d", entry.Hash[:8], entry.Actor, entry.Seq, entry.OnCount)
}

// RenderHistoryToSvg draws the change graph of a board, one node per change labelled with its author and the number
// of cells that were on after it.
func RenderHistoryToSvg(history []boarddoc.HistoryEntry, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, entry := range history {
		n, err := graph.CreateNode(entry.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(entry))
		nodeMap[n.Name()] = n

		for _, hash := range entry.Dependencies {
			dep, ok := nodeMap[hash]
			if !ok {
				return fmt.Errorf("change %s depends on unknown change %s", entry.Hash, hash)
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), dep, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToTemp(doc *boarddoc.Document) (string, error) {
	history, err := doc.History()
	if err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(history, tf); err != nil {
		return "", err
	}
	return tf, nil
}

// WriteDot writes the change graph in graphviz dot syntax.
func WriteDot(w io.Writer, history []boarddoc.HistoryEntry) error {
	if _, err := fmt.Fprintln(w, `digraph "log" {`); err != nil {
		return err
	}
	for _, entry := range history {
		if _, err := fmt.Fprintf(w, "    %q [label=%q]\n", entry.Hash, label(entry)); err != nil {
			return err
		}
		for _, hash := range entry.Dependencies {
			if _, err := fmt.Fprintf(w, "    %q -> %q\n", hash, entry.Hash); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
