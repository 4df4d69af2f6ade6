package microchain

import "sync"

// mailbox is an unbounded FIFO of work items for one chain. Producers never
// block; the owning chain goroutine waits on ready.
type mailbox struct {
	mu    sync.Mutex
	items []*item
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(it *item) {
	m.mu.Lock()
	m.items = append(m.items, it)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// drain removes up to max items in arrival order. max <= 0 takes everything.
func (m *mailbox) drain(max int) []*item {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	if max > 0 && n > max {
		n = max
	}
	out := make([]*item, n)
	copy(out, m.items)
	m.items = append(m.items[:0:0], m.items[n:]...)
	if len(m.items) > 0 {
		select {
		case m.ready <- struct{}{}:
		default:
		}
	}
	return out
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// envelopes returns the queued envelopes without removing them.
func (m *mailbox) envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, it := range m.items {
		if it.kind == itemEnvelope {
			out = append(out, it.envelope)
		}
	}
	return out
}
