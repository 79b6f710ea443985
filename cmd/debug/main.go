package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	svgVar := flag.String("svg", "", "also render the change graph to this svg file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file to read")
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	buff, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := boarddoc.Load(buff)
	if err != nil {
		return err
	}
	buff = nil

	snap, err := doc.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read board: %w", err)
	}
	slog.Info("loaded board", "width", snap.Width(), "height", snap.Height(), "on", snap.OnCount())
	slog.Info("loaded heads", "heads", doc.Heads())
	fmt.Fprint(os.Stderr, snap.String())

	history, err := doc.History()
	if err != nil {
		return err
	}
	slog.Info("changes:")
	for i, entry := range history {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", entry.Hash, "actor", entry.Actor, "msg", entry.Message, "dep", entry.Dependencies)
	}

	if *svgVar != "" {
		if err := viz.RenderHistoryToSvg(history, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return viz.WriteDot(os.Stdout, history)
}
