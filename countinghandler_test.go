package blockring

import "sync"

// CountingHandler is a Handler used by tests to record every batch it was
// given, in order, while tracking call counts the way the teacher's
// MockBackend tracks I/O method calls. It is safe for concurrent use, though
// the engine never calls Handle concurrently with itself.
type CountingHandler struct {
	mu        sync.Mutex
	batches   [][]any
	callCount int
	blockCh   chan struct{} // when non-nil, Handle blocks until this is closed
	failNext  error
}

// NewCountingHandler returns a handler with no induced blocking or failure.
func NewCountingHandler() *CountingHandler {
	return &CountingHandler{}
}

// BlockUntil makes the next and all subsequent Handle calls block until ch
// is closed -- used to simulate a slow handler for backpressure tests.
func (h *CountingHandler) BlockUntil(ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blockCh = ch
}

// FailNext makes the next Handle call return err instead of recording the
// batch.
func (h *CountingHandler) FailNext(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = err
}

func (h *CountingHandler) Handle(ops []any) error {
	h.mu.Lock()
	blockCh := h.blockCh
	h.mu.Unlock()
	if blockCh != nil {
		<-blockCh
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.callCount++
	if h.failNext != nil {
		err := h.failNext
		h.failNext = nil
		return err
	}
	batch := make([]any, len(ops))
	copy(batch, ops)
	h.batches = append(h.batches, batch)
	return nil
}

// Batches returns every batch Handle has been called with, in order.
func (h *CountingHandler) Batches() [][]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]any, len(h.batches))
	copy(out, h.batches)
	return out
}

// Items flattens every batch into a single ordered slice.
func (h *CountingHandler) Items() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, b := range h.batches {
		out = append(out, b...)
	}
	return out
}

// CallCount returns the number of times Handle has been invoked.
func (h *CountingHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callCount
}

var _ Handler = (*CountingHandler)(nil)
