package executor

import (
	"strings"
	"sync"
)

// tailWriter keeps the last max bytes written to it and remembers whether a
// marker string ever appeared, even when it straddles two writes.
type tailWriter struct {
	mu     sync.Mutex
	max    int
	buf    []byte
	marker string
	carry  []byte
	seen   bool
}

func newTailWriter(max int, marker string) *tailWriter {
	return &tailWriter{max: max, marker: marker}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.marker != "" && !w.seen {
		window := append(w.carry, p...)
		if strings.Contains(string(window), w.marker) {
			w.seen = true
		}
		keep := len(w.marker) - 1
		if len(window) > keep {
			window = window[len(window)-keep:]
		}
		w.carry = append(w.carry[:0:0], window...)
	}

	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *tailWriter) SawMarker() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen
}
