package ffmpeg

import (
	"strings"
	"sync"
)

// tailBuffer keeps the last N diagnostic lines of a process
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{lines: make([]string, size)}
}

func (r *tailBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines oldest first
func (r *tailBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}

// Last returns up to n of the most recent lines joined by newlines
func (r *tailBuffer) Last(n int) string {
	lines := r.Lines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
