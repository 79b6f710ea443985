package boarddoc

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// SyncPeer tracks the automerge sync state with one remote peer. A new peer is needed for every connection.
type SyncPeer struct {
	doc   *Document
	state *automerge.SyncState
}

func (d *Document) NewSyncPeer() *SyncPeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &SyncPeer{doc: d, state: automerge.NewSyncState(d.doc)}
}

// Receive applies a sync message from the remote peer. Listeners see OriginSync if it carried new changes.
func (p *SyncPeer) Receive(raw []byte) error {
	changed, err := p.doc.mutate(func(doc *automerge.Doc) error {
		if _, err := p.state.ReceiveMessage(raw); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		p.doc.notify(OriginSync)
	}
	return nil
}

// Generate returns the next message for the remote peer, or false when there is nothing left to send.
func (p *SyncPeer) Generate() ([]byte, bool) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	msg, valid := p.state.GenerateMessage()
	if !valid || msg == nil {
		return nil, false
	}
	return msg.Bytes(), true
}

// SyncInMemory exchanges messages between two documents until neither has anything left to say.
func SyncInMemory(a, b *Document) error {
	pa, pb := a.NewSyncPeer(), b.NewSyncPeer()
	hadMessages := true
	for hadMessages {
		hadMessages = false
		for {
			msg, ok := pa.Generate()
			if !ok {
				break
			}
			hadMessages = true
			if err := pb.Receive(msg); err != nil {
				return err
			}
		}
		for {
			msg, ok := pb.Generate()
			if !ok {
				break
			}
			hadMessages = true
			if err := pa.Receive(msg); err != nil {
				return err
			}
		}
	}
	return nil
}
