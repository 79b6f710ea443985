package boarddoc

import (
	"fmt"
)

// HistoryEntry describes one change in the document and how many cells were on once it was applied.
type HistoryEntry struct {
	Hash         string
	Actor        string
	Seq          uint64
	Message      string
	Dependencies []string
	OnCount      int
}

func (d *Document) History() ([]HistoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changes, err := d.doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]HistoryEntry, 0, len(changes))
	for _, change := range changes {
		entry := HistoryEntry{
			Hash:         change.Hash().String(),
			Actor:        change.ActorID(),
			Seq:          change.ActorSeq(),
			Message:      change.Message(),
			Dependencies: hashStrings(change.Dependencies()),
		}
		docAt, err := d.doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		// changes from before the board was seeded have no cells to count
		if b, err := snapshot(docAt); err == nil {
			entry.OnCount = b.OnCount()
		}
		out = append(out, entry)
	}
	return out, nil
}
