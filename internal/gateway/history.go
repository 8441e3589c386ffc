package gateway

import (
	"sync"

	"futures-signal-engine/internal/execution"
)

// historyEntry is one broadcast cycle result.
type historyEntry struct {
	Seq      int64
	Result   execution.Result
	Envelope []byte // pre-built WS envelope
}

// History is a fixed-size ring of the most recent cycle results. It backs
// the REST results endpoint and the WS backfill; nothing is persisted.
type History struct {
	mu   sync.RWMutex
	buf  []historyEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewHistory creates a ring holding capacity results.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 200
	}
	return &History{
		buf: make([]historyEntry, capacity),
		cap: capacity,
	}
}

// Push appends an entry, overwriting the oldest when full.
func (h *History) Push(seq int64, r execution.Result, envelope []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.pos] = historyEntry{Seq: seq, Result: r, Envelope: envelope}
	h.pos = (h.pos + 1) % h.cap
	if h.pos == 0 {
		h.full = true
	}
}

// Latest returns up to n results, newest first.
func (h *History) Latest(n int) []execution.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]execution.Result, 0, n)
	for i := count - 1; i >= count-n; i-- {
		out = append(out, h.buf[h.index(i)].Result)
	}
	return out
}

// Since returns the envelopes with seq > after, oldest first.
func (h *History) Since(after int64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out [][]byte
	for i := 0; i < h.len(); i++ {
		e := h.buf[h.index(i)]
		if e.Seq > after {
			out = append(out, e.Envelope)
		}
	}
	return out
}

// Len returns the number of stored results.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.len()
}

func (h *History) len() int {
	if h.full {
		return h.cap
	}
	return h.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (h *History) index(logical int) int {
	if h.full {
		return (h.pos + logical) % h.cap
	}
	return logical
}
