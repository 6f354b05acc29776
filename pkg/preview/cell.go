package preview

import "sync"

// DocumentCell is the single-slot, last-writer-wins holder of the latest
// compiled Document (§3). Go's stdlib has no tokio::sync::watch; this is
// built directly on a mutex plus a per-generation closed channel used as
// a one-shot "something changed" signal, which readers can select on
// without ever missing an update (they just re-Snapshot after it fires).
type DocumentCell struct {
	mu   sync.Mutex
	doc  Document
	gen  chan struct{}
}

// NewDocumentCell returns an empty cell.
func NewDocumentCell() *DocumentCell {
	return &DocumentCell{gen: make(chan struct{})}
}

// Set publishes doc as the newest value, waking every current watcher.
// Set does not compare versions. Invariant §3.2 (monotonic version)
// rests on the caller: the supervisor is the only writer, and it calls
// Set once per successful compile, in compile order.
func (c *DocumentCell) Set(doc Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
	close(c.gen)
	c.gen = make(chan struct{})
}

// Snapshot returns the current value and a channel that closes the next
// time Set is called. Readers re-Snapshot after the channel closes rather
// than being handed every intermediate value — newest-only, per §5.
func (c *DocumentCell) Snapshot() (Document, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc, c.gen
}
